// Package gate filters raw positioning fixes.
// Each gate answers one question about a candidate fix; the session
// runs them in a fixed order: accuracy, temporal, teleport, jitter.
// A failed gate drops the fix silently; the tally counts it.
package gate

import (
	"time"

	"github.com/strideworks/trackd/params"
	"github.com/strideworks/trackd/types/fix"
)

// Gates evaluates candidate fixes against the configured thresholds.
// Pure predicates; state (last point, counters) belongs to the caller.
type Gates struct {
	cfg *params.GateConfig
}

func NewGates(cfg *params.GateConfig) *Gates {
	if cfg == nil {
		cfg = params.DefaultGateConfig()
	}
	return &Gates{cfg: cfg}
}

// ResolveAccuracy substitutes the default for an unreported accuracy.
func (g *Gates) ResolveAccuracy(f *fix.Fix) float64 {
	if f.Accuracy <= 0 {
		return g.cfg.DefaultAccuracy
	}
	return f.Accuracy
}

// PassAccuracy rejects fixes whose reported precision is worse than the
// threshold. Evaluated first: a poor fix invalidates every downstream
// calculation regardless of speed or distance.
func (g *Gates) PassAccuracy(accuracy float64) bool {
	return accuracy <= g.cfg.MaxAcceptableAccuracy
}

// CheckTemporal classifies the (normalized) time delta since the last
// accepted point. Non-positive deltas are stale, sub-MinTimeDelta
// deltas are duplicate intervals. The first fix of a session skips
// this gate entirely.
func (g *Gates) CheckTemporal(interval time.Duration) (fix.RejectionReason, bool) {
	if interval <= 0 {
		return fix.RejectStale, false
	}
	if interval < g.cfg.MinTimeDelta {
		return fix.RejectDuplicate, false
	}
	return "", true
}

// PassTeleport rejects physically implausible speed spikes.
func (g *Gates) PassTeleport(seg Segment) bool {
	return seg.SpeedMps <= g.cfg.MaxReasonableSpeed
}

// MinJitterDistance is the smallest segment that counts as real
// movement at the given accuracy. The floor scales inversely with
// signal quality: a fixed threshold either over-rejects in poor signal
// or under-rejects in good signal.
func (g *Gates) MinJitterDistance(accuracy float64) float64 {
	for _, band := range g.cfg.JitterThresholds {
		if accuracy <= band.MaxAccuracy {
			return band.MinDistance
		}
	}
	return g.cfg.JitterFloorWorst
}

// PassJitter rejects sub-threshold movement attributable to positioning
// noise. Applies only while auto-pause is inactive; the caller enforces that.
func (g *Gates) PassJitter(seg Segment, accuracy float64) bool {
	return seg.DistanceMeters >= g.MinJitterDistance(accuracy)
}

// MaxReasonableSpeed exposes the teleport cap for the auto-pause resume
// band, which shares its upper bound with this gate.
func (g *Gates) MaxReasonableSpeed() float64 {
	return g.cfg.MaxReasonableSpeed
}

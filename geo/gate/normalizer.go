package gate

import (
	"time"

	"github.com/strideworks/trackd/params"
	"github.com/strideworks/trackd/types/fix"
)

// Normalizer repairs fix timestamps so downstream time-delta math never
// sees zero or negative intervals. It rejects nothing.
type Normalizer struct {
	// Now is the injected clock.
	Now func() time.Time

	// MinTimeDelta is the floor applied when resolving a non-monotonic
	// timestamp against the last accepted point.
	MinTimeDelta time.Duration
}

func NewNormalizer(cfg *params.GateConfig, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{Now: now, MinTimeDelta: cfg.MinTimeDelta}
}

// Normalize returns a timestamp (Unix ms) guaranteed strictly greater
// than the last accepted point's. A missing or garbage timestamp is
// replaced with the current clock time. A timestamp at or behind the
// last accepted point resolves to max(now, last+MinTimeDelta) so the
// stream moves forward rather than producing negative deltas.
func (n *Normalizer) Normalize(f *fix.Fix, last *fix.AcceptedPoint) int64 {
	ts := f.Timestamp
	if !f.HasTimestamp() {
		ts = n.Now().UnixMilli()
	}
	if last == nil {
		return ts
	}
	if ts <= last.Timestamp {
		floor := last.Timestamp + n.MinTimeDelta.Milliseconds()
		if now := n.Now().UnixMilli(); now > floor {
			return now
		}
		return floor
	}
	return ts
}

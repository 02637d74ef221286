// Package autopause infers "stopped" vs "moving" from segment speeds.
// It is a two-state hysteresis machine: the pause and resume thresholds
// differ, and pausing additionally requires a dwell of sustained low
// speed, so transient GPS speed noise at near-zero motion cannot
// toggle the state.
package autopause

import (
	"time"

	"github.com/strideworks/trackd/params"
)

// State is the serializable detector state, checkpointed with the session.
// Timestamps are Unix milliseconds; zero means unset.
type State struct {
	Active        bool  `json:"active"`
	ActivatedAt   int64 `json:"activatedAt,omitempty"`
	LowSpeedSince int64 `json:"lowSpeedSince,omitempty"`
	TriggerCount  int   `json:"triggerCount"`
}

// Detector tracks the moving/auto-paused state for one session.
// Not safe for concurrent use; the session serializes all calls.
type Detector struct {
	cfg *params.AutoPauseConfig

	active        bool
	activatedAt   int64
	lowSpeedSince int64
	triggerCount  int
}

func NewDetector(cfg *params.AutoPauseConfig) *Detector {
	if cfg == nil {
		cfg = params.DefaultAutoPauseConfig()
	}
	return &Detector{cfg: cfg}
}

func (d *Detector) Active() bool {
	return d.active
}

func (d *Detector) TriggerCount() int {
	return d.triggerCount
}

// TryResume transitions AutoPaused -> Moving when the observed speed is
// both fast enough to be real motion and slow enough not to be a
// teleport: speed in (resume, maxReasonable]. Called before the
// teleport gate so a resuming pulse is not misclassified.
func (d *Detector) TryResume(speedMps, maxReasonableSpeed float64) bool {
	if !d.active {
		return false
	}
	if speedMps > d.cfg.ResumeSpeed && speedMps <= maxReasonableSpeed {
		d.active = false
		d.activatedAt = 0
		d.lowSpeedSince = 0
		return true
	}
	return false
}

// Observe feeds a segment speed at time nowMs and reports whether this
// observation triggered Moving -> AutoPaused. The low-speed clock
// resets whenever speed rises above the pause threshold; pausing
// requires it to run continuously for at least MinPauseDuration.
// Observations while already paused keep the state unchanged.
func (d *Detector) Observe(speedMps float64, nowMs int64) (paused bool) {
	if d.active {
		return false
	}
	if speedMps >= d.cfg.PauseSpeed {
		d.lowSpeedSince = 0
		return false
	}
	if d.lowSpeedSince == 0 {
		d.lowSpeedSince = nowMs
		return false
	}
	if nowMs-d.lowSpeedSince >= d.cfg.MinPauseDuration.Milliseconds() {
		d.active = true
		d.activatedAt = nowMs
		d.lowSpeedSince = 0
		d.triggerCount++
		return true
	}
	return false
}

// ActiveFor reports how long the detector has been paused as of nowMs.
func (d *Detector) ActiveFor(nowMs int64) time.Duration {
	if !d.active || d.activatedAt == 0 {
		return 0
	}
	return time.Duration(nowMs-d.activatedAt) * time.Millisecond
}

func (d *Detector) State() State {
	return State{
		Active:        d.active,
		ActivatedAt:   d.activatedAt,
		LowSpeedSince: d.lowSpeedSince,
		TriggerCount:  d.triggerCount,
	}
}

func (d *Detector) Restore(s State) {
	d.active = s.Active
	d.activatedAt = s.ActivatedAt
	d.lowSpeedSince = s.LowSpeedSince
	d.triggerCount = s.TriggerCount
}

func (d *Detector) Reset() {
	d.Restore(State{})
}

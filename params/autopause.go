package params

import "time"

// AutoPauseConfig tunes the stopped/moving hysteresis.
// PauseSpeed and ResumeSpeed are deliberately distinct (a hysteresis band)
// so transient GPS speed noise at near-zero motion cannot toggle the state.
type AutoPauseConfig struct {
	// PauseSpeed: below this (m/s), the runner may be stopped.
	PauseSpeed float64

	// ResumeSpeed: above this (m/s), the runner is definitely moving again.
	ResumeSpeed float64

	// MinPauseDuration is how long speed must stay below PauseSpeed,
	// continuously, before the detector calls it a stop.
	MinPauseDuration time.Duration
}

func DefaultAutoPauseConfig() *AutoPauseConfig {
	return &AutoPauseConfig{
		PauseSpeed:       0.2,
		ResumeSpeed:      1.0,
		MinPauseDuration: 10 * time.Second,
	}
}

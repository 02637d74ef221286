package params

import "time"

// SessionConfig collects the per-recording tunables.
type SessionConfig struct {
	Gate      *GateConfig
	AutoPause *AutoPauseConfig
	Warmup    *WarmupConfig

	// CheckpointFlushInterval is how often the durable checkpoint tier
	// is flushed while recording. The fast tier is written on every
	// accepted point regardless.
	CheckpointFlushInterval time.Duration

	// SignalLossWarnAfter is how long the session tolerates fix silence
	// before surfacing a (non-fatal) warning.
	SignalLossWarnAfter time.Duration

	// TickInterval drives duration/pace recomputation between fixes.
	TickInterval time.Duration

	// MinPaceDistanceKm guards average pace against tiny denominators.
	MinPaceDistanceKm float64
}

// WarmupConfig tunes the optional pre-recording signal check.
type WarmupConfig struct {
	// QualityAccuracy is the median accuracy (meters) the warmup window
	// must reach before recording auto-starts.
	QualityAccuracy float64

	// WindowSize is how many recent fixes the quality check considers.
	WindowSize int
}

func DefaultWarmupConfig() *WarmupConfig {
	return &WarmupConfig{
		QualityAccuracy: 30,
		WindowSize:      5,
	}
}

func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Gate:                    DefaultGateConfig(),
		AutoPause:               DefaultAutoPauseConfig(),
		Warmup:                  DefaultWarmupConfig(),
		CheckpointFlushInterval: 30 * time.Second,
		SignalLossWarnAfter:     60 * time.Second,
		TickInterval:            time.Second,
		MinPaceDistanceKm:       0.05,
	}
}

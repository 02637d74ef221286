package params

import "time"

// GateConfig tunes the fix-filtering pipeline.
// The defaults are tuned empirically for recreational running;
// callers with other subjects (walkers, cyclists) should adjust.
type GateConfig struct {
	// MaxAcceptableAccuracy is the worst reported accuracy (meters) a fix
	// may carry and still enter the pipeline. A poor fix invalidates every
	// downstream calculation, so this gate runs first.
	MaxAcceptableAccuracy float64

	// DefaultAccuracy substitutes for a missing accuracy report, meters.
	DefaultAccuracy float64

	// MinTimeDelta is the shortest interval between two accepted fixes.
	// Anything quicker is a duplicate-interval fix.
	MinTimeDelta time.Duration

	// MaxReasonableSpeed caps implied segment speed, m/s.
	// 12 m/s is ~43 km/h: generous for sprint efforts, tight enough
	// to catch receiver jumps.
	MaxReasonableSpeed float64

	// JitterThresholds maps reported accuracy to the minimum segment
	// distance (meters) that counts as real movement rather than
	// stationary noise. Evaluated in order; the first band whose
	// MaxAccuracy covers the fix wins, else JitterFloorWorst.
	JitterThresholds []JitterBand

	// JitterFloorWorst is the minimum segment distance for fixes whose
	// accuracy exceeds every band in JitterThresholds.
	JitterFloorWorst float64
}

// JitterBand pairs an accuracy ceiling with a minimum-movement floor.
// Better signal permits smaller believable movements.
type JitterBand struct {
	MaxAccuracy float64
	MinDistance float64
}

func DefaultGateConfig() *GateConfig {
	return &GateConfig{
		MaxAcceptableAccuracy: 120,
		DefaultAccuracy:       50,
		MinTimeDelta:          400 * time.Millisecond,
		MaxReasonableSpeed:    12,
		JitterThresholds: []JitterBand{
			{MaxAccuracy: 20, MinDistance: 0.5},
			{MaxAccuracy: 40, MinDistance: 1.0},
			{MaxAccuracy: 80, MinDistance: 2.0},
		},
		JitterFloorWorst: 3.0,
	}
}

// Package metrics accumulates accepted segments into the live
// distance/pace time series and the end-of-run GPS quality metadata.
package metrics

import (
	"github.com/shopspring/decimal"
	"github.com/strideworks/trackd/types/fix"
)

// RunMetrics is the derived view recomputed on every accepted point and
// on every timer tick. It is replaced wholesale, never appended to.
type RunMetrics struct {
	DistanceKm          float64 `json:"distanceKm"`
	DurationSeconds     int     `json:"durationSeconds"`
	PaceSecPerKm        float64 `json:"paceSecPerKm"`
	CurrentPaceSecPerKm float64 `json:"currentPaceSecPerKm"`
	CurrentSpeedMps     float64 `json:"currentSpeedMps"`
	Calories            int     `json:"calories"`
}

// GpsMetadata is persisted alongside a finished run: how many fixes the
// pipeline saw, what it dropped and why.
type GpsMetadata struct {
	AcceptedPoints   int                         `json:"acceptedPoints"`
	RejectedPoints   int                         `json:"rejectedPoints"`
	RejectionReasons map[fix.RejectionReason]int `json:"rejectionReasons"`
	AutoPauseCount   int                         `json:"autoPauseCount"`
	RejectionRate    float64                     `json:"rejectionRate"`
}

// RoundKm rounds a distance to 2 decimal places (10 m) for persistence
// and display. Internal accumulation keeps full precision.
func RoundKm(km float64) float64 {
	f, _ := decimal.NewFromFloat(km).Round(2).Float64()
	return f
}

package gate

import (
	"time"

	"github.com/paulmach/orb/geo"
	"github.com/strideworks/trackd/types/fix"
)

// Segment is the great-circle relationship between the last accepted
// point and a candidate fix. Pure data; no side effects.
type Segment struct {
	DistanceMeters float64
	Interval       time.Duration
	SpeedMps       float64
}

// EvaluateSegment computes haversine distance and implied speed between
// the last accepted point and a candidate, given the candidate's
// (already normalized) timestamp in Unix milliseconds.
func EvaluateSegment(last fix.AcceptedPoint, candidate *fix.Fix, timestampMs int64) Segment {
	interval := time.Duration(timestampMs-last.Timestamp) * time.Millisecond
	dist := geo.Distance(last.Point(), candidate.Point())
	seg := Segment{
		DistanceMeters: dist,
		Interval:       interval,
	}
	if secs := interval.Seconds(); secs > 0 {
		seg.SpeedMps = dist / secs
	}
	return seg
}

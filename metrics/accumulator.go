package metrics

import (
	"time"

	"github.com/strideworks/trackd/common"
	"github.com/strideworks/trackd/geo/gate"
	"github.com/strideworks/trackd/types/fix"
)

// Accumulator owns the path history and the incremental distance sum
// for one session. Distance is summed segment by segment, O(1) per
// point; it is never recomputed from the full path. DistanceKm is
// monotonically non-decreasing for the lifetime of a session.
// Not safe for concurrent use; the session serializes all calls.
type Accumulator struct {
	minPaceDistanceKm float64

	path       []fix.AcceptedPoint
	distanceKm float64

	durationSeconds int
	currentSpeed    float64
	currentPace     float64
	avgPace         float64
}

func NewAccumulator(minPaceDistanceKm float64) *Accumulator {
	return &Accumulator{minPaceDistanceKm: minPaceDistanceKm}
}

// Append records an accepted point. The path append, last-point update,
// and distance increment happen together, never independently.
// While auto-paused, the point still joins the path (map continuity)
// but contributes zero distance, and the current pace/speed zero out.
func (a *Accumulator) Append(p fix.AcceptedPoint, seg gate.Segment, autoPaused bool) {
	a.path = append(a.path, p)
	if autoPaused {
		a.currentSpeed = 0
		a.currentPace = 0
		return
	}
	a.distanceKm += seg.DistanceMeters / 1000
	a.currentSpeed = seg.SpeedMps
	if seg.SpeedMps > 0 {
		a.currentPace = 1000 / seg.SpeedMps
	} else {
		a.currentPace = 0
	}
	a.recomputeAvgPace()
}

// Tick recomputes the duration-derived fields without a GPS event.
// Driven by the session's 1-second timer.
func (a *Accumulator) Tick(elapsed time.Duration) {
	a.durationSeconds = int(elapsed.Seconds())
	a.recomputeAvgPace()
}

// recomputeAvgPace guards against pace blow-up on tiny denominators:
// no average pace until the run has covered a minimum distance.
func (a *Accumulator) recomputeAvgPace() {
	if a.distanceKm > a.minPaceDistanceKm {
		a.avgPace = float64(a.durationSeconds) / a.distanceKm
	}
}

func (a *Accumulator) Metrics() RunMetrics {
	return RunMetrics{
		DistanceKm:          a.distanceKm,
		DurationSeconds:     a.durationSeconds,
		PaceSecPerKm:        a.avgPace,
		CurrentPaceSecPerKm: a.currentPace,
		CurrentSpeedMps:     a.currentSpeed,
		Calories:            common.Round(a.distanceKm * 60),
	}
}

func (a *Accumulator) DistanceKm() float64 {
	return a.distanceKm
}

// LastPoint returns the most recently accepted point, nil before the
// first acceptance. Retained across pause/resume so the first segment
// after resume reflects true continuity.
func (a *Accumulator) LastPoint() *fix.AcceptedPoint {
	if len(a.path) == 0 {
		return nil
	}
	return &a.path[len(a.path)-1]
}

// Path returns the accumulated path history. Callers must not mutate it.
func (a *Accumulator) Path() []fix.AcceptedPoint {
	return a.path
}

// Restore rebuilds the accumulator from a checkpoint.
func (a *Accumulator) Restore(path []fix.AcceptedPoint, distanceKm float64, durationSeconds int) {
	a.path = append([]fix.AcceptedPoint(nil), path...)
	a.distanceKm = distanceKm
	a.durationSeconds = durationSeconds
	a.currentSpeed = 0
	a.currentPace = 0
	a.recomputeAvgPace()
}

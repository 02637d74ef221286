package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/strideworks/trackd/geo/gate"
	"github.com/strideworks/trackd/types/fix"
)

func point(ts int64) fix.AcceptedPoint {
	return fix.AcceptedPoint{Lat: 40.7128, Lng: -74.0060, Timestamp: ts, Accuracy: 5}
}

func segment(meters float64) gate.Segment {
	return gate.Segment{
		DistanceMeters: meters,
		Interval:       time.Second,
		SpeedMps:       meters,
	}
}

func TestAppendSumsSegments(t *testing.T) {
	a := NewAccumulator(0.05)
	a.Append(point(1000), gate.Segment{}, false)
	a.Append(point(2000), segment(3), false)
	a.Append(point(3000), segment(4), false)

	if got := a.DistanceKm(); math.Abs(got-0.007) > 1e-9 {
		t.Errorf("distance = %v km", got)
	}
	if len(a.Path()) != 3 {
		t.Errorf("path length = %d", len(a.Path()))
	}
	if last := a.LastPoint(); last == nil || last.Timestamp != 3000 {
		t.Errorf("last point = %+v", last)
	}
}

func TestAutoPausedAppendAddsNoDistance(t *testing.T) {
	a := NewAccumulator(0.05)
	a.Append(point(1000), gate.Segment{}, false)
	a.Append(point(2000), segment(3), false)
	before := a.DistanceKm()

	a.Append(point(3000), segment(5), true)
	if a.DistanceKm() != before {
		t.Errorf("distance moved while auto-paused: %v -> %v", before, a.DistanceKm())
	}
	// The point still joins the path so the map stays continuous.
	if len(a.Path()) != 3 {
		t.Errorf("path length = %d", len(a.Path()))
	}

	m := a.Metrics()
	if m.CurrentSpeedMps != 0 || m.CurrentPaceSecPerKm != 0 {
		t.Errorf("current speed/pace not zeroed while paused: %+v", m)
	}
}

func TestAvgPaceGuardedByMinDistance(t *testing.T) {
	a := NewAccumulator(0.05)
	a.Append(point(1000), gate.Segment{}, false)
	a.Append(point(2000), segment(10), false) // 0.01 km, under the guard
	a.Tick(60 * time.Second)

	if got := a.Metrics().PaceSecPerKm; got != 0 {
		t.Errorf("average pace reported on a tiny denominator: %v", got)
	}

	for ts := int64(3000); ts <= 11_000; ts += 1000 {
		a.Append(point(ts), segment(10), false)
	}
	a.Tick(60 * time.Second)

	// 0.1 km in 60 seconds: 600 sec/km.
	if got := a.Metrics().PaceSecPerKm; math.Abs(got-600) > 1 {
		t.Errorf("average pace = %v, want ~600", got)
	}
}

func TestTickDrivesDuration(t *testing.T) {
	a := NewAccumulator(0.05)
	a.Tick(95 * time.Second)
	if got := a.Metrics().DurationSeconds; got != 95 {
		t.Errorf("duration = %d", got)
	}
}

func TestCurrentPaceFromSegmentSpeed(t *testing.T) {
	a := NewAccumulator(0.05)
	a.Append(point(1000), gate.Segment{}, false)
	a.Append(point(2000), gate.Segment{DistanceMeters: 2.5, Interval: time.Second, SpeedMps: 2.5}, false)

	m := a.Metrics()
	if m.CurrentSpeedMps != 2.5 {
		t.Errorf("current speed = %v", m.CurrentSpeedMps)
	}
	if got := m.CurrentPaceSecPerKm; math.Abs(got-400) > 1e-9 {
		t.Errorf("current pace = %v, want 400", got)
	}
}

func TestCalories(t *testing.T) {
	a := NewAccumulator(0.05)
	a.Append(point(1000), gate.Segment{}, false)
	a.Append(point(2000), segment(5000), false)

	if got := a.Metrics().Calories; got != 300 {
		t.Errorf("calories for 5 km = %d, want 300", got)
	}
}

func TestRestore(t *testing.T) {
	path := []fix.AcceptedPoint{point(1000), point(2000)}
	a := NewAccumulator(0.05)
	a.Restore(path, 2.5, 600)

	m := a.Metrics()
	if m.DistanceKm != 2.5 || m.DurationSeconds != 600 {
		t.Errorf("restored metrics = %+v", m)
	}
	if m.PaceSecPerKm != 240 {
		t.Errorf("restored pace = %v, want 240", m.PaceSecPerKm)
	}
	if m.CurrentSpeedMps != 0 || m.CurrentPaceSecPerKm != 0 {
		t.Error("restore left stale current speed/pace")
	}
	if last := a.LastPoint(); last == nil || last.Timestamp != 2000 {
		t.Errorf("restored last point = %+v", last)
	}

	// Accumulation continues from the restored sum.
	a.Append(point(3000), segment(500), false)
	if got := a.DistanceKm(); math.Abs(got-3.0) > 1e-9 {
		t.Errorf("distance after restore+append = %v", got)
	}
}

func TestRoundKm(t *testing.T) {
	if got := RoundKm(5.23498); got != 5.23 {
		t.Errorf("RoundKm = %v", got)
	}
	if got := RoundKm(5.235); got != 5.24 {
		t.Errorf("RoundKm = %v", got)
	}
	// A single ~5.6m stride rounds up to the odometer's first tick.
	if got := RoundKm(0.00556); got != 0.01 {
		t.Errorf("RoundKm = %v", got)
	}
}

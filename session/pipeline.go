package session

import (
	"time"

	"github.com/montanaflynn/stats"
	"github.com/strideworks/trackd/cache"
	"github.com/strideworks/trackd/geo/gate"
	"github.com/strideworks/trackd/metrics"
	"github.com/strideworks/trackd/types/fix"
	"github.com/strideworks/trackd/types/run"
)

// onFix is the watch callback. It posts into the actor mailbox so fix
// processing is serialized with ticks and lifecycle commands; each fix
// runs to completion before the next is handled.
func (s *Session) onFix(f *fix.Fix) {
	_ = s.do(func() error {
		s.lastFixAt = s.clock.Now()
		s.signalLossWarned = false
		switch s.status {
		case StatusWarmup:
			s.observeWarmup(f)
		case StatusRecording:
			s.processFix(f)
		}
		// Paused or stopped: the watch should be gone; a straggler
		// callback is dropped without counting.
		return nil
	})
}

// processFix runs one fix through the whole pipeline:
// normalize, accuracy, temporal, segment, auto-pause resume, teleport,
// auto-pause dwell, jitter, accumulate, checkpoint.
func (s *Session) processFix(f *fix.Fix) {
	accuracy := s.gates.ResolveAccuracy(f)
	last := s.acc.LastPoint()
	ts := s.normalizer.Normalize(f, last)

	if !s.gates.PassAccuracy(accuracy) {
		s.reject(f, fix.RejectAccuracy)
		return
	}

	// The first accepted fix is the distance baseline: no prior point,
	// no temporal/speed/jitter questions to ask, zero contribution.
	if last == nil {
		s.accept(fix.Promote(f, accuracy, ts), gate.Segment{})
		return
	}

	seg := gate.EvaluateSegment(*last, f, ts)

	if reason, ok := s.gates.CheckTemporal(seg.Interval); !ok {
		s.reject(f, reason)
		return
	}

	// Resume check precedes the teleport gate so a genuine resuming
	// pulse is not misclassified as a speed spike.
	if s.detector.TryResume(seg.SpeedMps, s.gates.MaxReasonableSpeed()) {
		s.logger.Info("Auto-pause resumed", "speedMps", seg.SpeedMps)
	}

	if !s.gates.PassTeleport(seg) {
		s.reject(f, fix.RejectSpeed)
		return
	}

	// The dwell tracker must see every plausible segment speed,
	// including ones the jitter gate is about to drop: a stationary
	// runner's fixes are nearly all jitter, and they are exactly the
	// evidence that the runner has stopped.
	if s.detector.Observe(seg.SpeedMps, ts) {
		s.logger.Info("Auto-paused",
			"speedMps", seg.SpeedMps, "count", s.detector.TriggerCount())
	}

	if s.detector.Active() {
		// Appended for map continuity; zero distance.
		s.accept(fix.Promote(f, accuracy, ts), seg)
		return
	}

	if !s.gates.PassJitter(seg, accuracy) {
		s.reject(f, fix.RejectJitter)
		return
	}

	s.accept(fix.Promote(f, accuracy, ts), seg)
}

func (s *Session) reject(f *fix.Fix, reason fix.RejectionReason) {
	s.tally.Reject(reason)
	s.logger.Debug("Rejected fix", "reason", reason, "fix", f.StringPretty())
}

// accept applies the point and the distance increment together, then
// runs the checkpoint side channel and publishes fresh metrics.
func (s *Session) accept(p fix.AcceptedPoint, seg gate.Segment) {
	s.tally.Accept()
	s.acc.Append(p, seg, s.detector.Active())

	now := s.clock.Now()
	s.acc.Tick(s.recordingElapsed(now))

	// Fast tier on every accepted point; durable on the interval.
	cache.SetCheckpoint(s.checkpoint(now))
	if now.Sub(s.lastDurableFlush) >= s.cfg.CheckpointFlushInterval {
		s.flushDurable(now)
	}

	s.metricsFeed.Send(s.acc.Metrics())
}

// onTick recomputes duration-derived fields once a second, flushes the
// durable checkpoint on schedule, and surfaces prolonged fix silence.
func (s *Session) onTick() {
	if s.status != StatusRecording {
		return
	}
	now := s.clock.Now()
	s.acc.Tick(s.recordingElapsed(now))
	s.metricsFeed.Send(s.acc.Metrics())

	if now.Sub(s.lastDurableFlush) >= s.cfg.CheckpointFlushInterval {
		s.flushDurable(now)
	}

	if !s.signalLossWarned && !s.lastFixAt.IsZero() &&
		now.Sub(s.lastFixAt) >= s.cfg.SignalLossWarnAfter {
		s.signalLossWarned = true
		w := Warning{
			Kind:    WarningSignalLoss,
			Message: "no position fixes received; accumulation resumes when the signal returns",
			At:      now.UnixMilli(),
		}
		s.logger.Warn("Signal loss", "since", s.lastFixAt)
		s.warningFeed.Send(w)
	}
}

// recordingElapsed is total recording time: finished stretches plus the
// current one. Manual pause time is excluded.
func (s *Session) recordingElapsed(now time.Time) time.Duration {
	elapsed := s.elapsedRun
	if s.status == StatusRecording && !s.resumedAt.IsZero() {
		elapsed += now.Sub(s.resumedAt)
	}
	return elapsed
}

// checkpoint snapshots the full mutable recording state. Built in one
// place so every write is a consistent snapshot.
func (s *Session) checkpoint(now time.Time) *run.Checkpoint {
	status := run.StatusRecording
	if s.status == StatusPaused {
		status = run.StatusPaused
	}
	m := s.acc.Metrics()
	return &run.Checkpoint{
		SessionID:          s.ID,
		UserID:             s.UserID,
		Status:             status,
		StartedAt:          s.startedAt.UnixMilli(),
		LastCheckpointAt:   now.UnixMilli(),
		DistanceKm:         m.DistanceKm,
		DurationSeconds:    m.DurationSeconds,
		ElapsedRunMs:       s.recordingElapsed(now).Milliseconds(),
		GpsPath:            s.acc.Path(),
		LastRecordedPoint:  s.acc.LastPoint(),
		AutoPause:          s.detector.State(),
		AutoPauseCount:     s.detector.TriggerCount(),
		AcceptedPointCount: s.tally.Accepted,
		RejectedPointCount: s.tally.Rejected,
		RejectionReasons:   s.tally.ReasonCounts(),
	}
}

// flushDurable writes the checkpoint to the durable store. Failures are
// logged and retried on the next scheduled flush; never fatal.
func (s *Session) flushDurable(now time.Time) {
	cp := s.checkpoint(now)
	if err := s.store.StoreCheckpoint(cp); err != nil {
		s.logger.Error("Checkpoint flush failed (will retry)", "error", err)
		return
	}
	s.lastDurableFlush = now
}

func (s *Session) gpsMetadata() metrics.GpsMetadata {
	return metrics.GpsMetadata{
		AcceptedPoints:   s.tally.Accepted,
		RejectedPoints:   s.tally.Rejected,
		RejectionReasons: s.tally.ReasonCounts(),
		AutoPauseCount:   s.detector.TriggerCount(),
		RejectionRate:    s.tally.RejectionRate(),
	}
}

// observeWarmup evaluates signal quality without accumulating anything.
// Once the median accuracy over the window crosses the threshold,
// recording begins on its own; ForceBegin overrides.
func (s *Session) observeWarmup(f *fix.Fix) {
	s.warmupAccuracies = append(s.warmupAccuracies, s.gates.ResolveAccuracy(f))
	if n := len(s.warmupAccuracies); n > s.cfg.Warmup.WindowSize {
		s.warmupAccuracies = s.warmupAccuracies[n-s.cfg.Warmup.WindowSize:]
	}
	if len(s.warmupAccuracies) < s.cfg.Warmup.WindowSize {
		return
	}
	median, err := stats.Median(stats.Float64Data(s.warmupAccuracies))
	if err != nil {
		return
	}
	if median <= s.cfg.Warmup.QualityAccuracy {
		s.logger.Info("Warmup signal quality ok", "medianAccuracy", median)
		s.beginRecording(s.clock.Now())
		s.statusFeed.Send(s.status)
		s.flushDurable(s.clock.Now())
	}
}

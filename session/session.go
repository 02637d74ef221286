// Package session orchestrates one recording: it owns the gate
// pipeline, the auto-pause detector, the accumulator, and the
// checkpoint tiers, and serializes every mutation through a single
// actor goroutine. Fix callbacks, timer ticks, and lifecycle commands
// all enter through the same mailbox, so the shared recording state has
// exactly one logical writer and needs no locks.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/strideworks/trackd/cache"
	"github.com/strideworks/trackd/geo/autopause"
	"github.com/strideworks/trackd/geo/gate"
	"github.com/strideworks/trackd/metrics"
	"github.com/strideworks/trackd/params"
	"github.com/strideworks/trackd/state"
	"github.com/strideworks/trackd/types/fix"
	"github.com/strideworks/trackd/types/run"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusWarmup    Status = "warmup"
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
)

// Permission is the platform location-permission state as reported by
// the collaborating UI layer.
type Permission string

const (
	PermissionGranted     Permission = "granted"
	PermissionDenied      Permission = "denied"
	PermissionPrompt      Permission = "prompt"
	PermissionUnsupported Permission = "unsupported"
)

var (
	// ErrPermission blocks start before any pipeline activity occurs.
	ErrPermission = errors.New("location permission unavailable")

	// ErrBadState rejects a lifecycle command in the wrong phase.
	ErrBadState = errors.New("invalid lifecycle transition")

	// ErrCheckpointExists means an incomplete prior recording was found.
	// The caller must decide: recover it or discard it. Silently
	// starting fresh would lose recorded progress.
	ErrCheckpointExists = errors.New("incomplete recording checkpoint exists")

	// ErrClosed means the session actor has shut down.
	ErrClosed = errors.New("session closed")
)

// Clock is injected so tests can script time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// WatchHandle identifies a platform location-watch subscription.
// Zero is a valid handle; liveness is tracked separately.
type WatchHandle int64

// FixSource is the subscription-style stream of raw fixes.
type FixSource interface {
	Watch(cb func(f *fix.Fix)) (WatchHandle, error)
	Clear(h WatchHandle) error
}

// Warning is a non-fatal condition surfaced while recording.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	At      int64  `json:"at"`
}

const WarningSignalLoss = "signal-loss"

// StartOptions resolves the two decisions start-time can need:
// what to do with an incomplete prior checkpoint, and whether to hold
// in warmup for signal quality.
type StartOptions struct {
	Permission Permission

	// Recover resumes the incomplete checkpoint found for this user.
	Recover bool
	// Discard deletes the incomplete checkpoint and starts fresh.
	Discard bool

	// SkipWarmup begins recording immediately, without the signal
	// quality hold.
	SkipWarmup bool
}

// Session is one recording, Idle through Stopped.
// All exported methods are safe to call from any goroutine; they post
// into the actor mailbox and wait.
type Session struct {
	ID     string
	UserID string

	cfg    *params.SessionConfig
	clock  Clock
	source FixSource
	store  *state.Store
	logger *slog.Logger

	ops  chan func()
	done chan struct{}

	status     Status
	normalizer *gate.Normalizer
	gates      *gate.Gates
	detector   *autopause.Detector
	acc        *metrics.Accumulator
	tally      *gate.Tally

	watch    WatchHandle
	watching bool

	startedAt        time.Time
	elapsedRun       time.Duration
	resumedAt        time.Time
	lastFixAt        time.Time
	signalLossWarned bool
	lastDurableFlush time.Time

	warmupAccuracies []float64

	savedRecord *run.Record

	metricsFeed event.FeedOf[metrics.RunMetrics]
	statusFeed  event.FeedOf[Status]
	warningFeed event.FeedOf[Warning]
}

// New constructs a session actor and starts its loop.
// A nil clock means wall time; a nil config means defaults.
func New(userID string, cfg *params.SessionConfig, source FixSource, store *state.Store, clock Clock) *Session {
	if cfg == nil {
		cfg = params.DefaultSessionConfig()
	}
	if clock == nil {
		clock = systemClock{}
	}
	s := &Session{
		UserID:     userID,
		cfg:        cfg,
		clock:      clock,
		source:     source,
		store:      store,
		logger:     slog.With("run", userID),
		ops:        make(chan func()),
		done:       make(chan struct{}),
		status:     StatusIdle,
		normalizer: gate.NewNormalizer(cfg.Gate, clock.Now),
		gates:      gate.NewGates(cfg.Gate),
		detector:   autopause.NewDetector(cfg.AutoPause),
		acc:        metrics.NewAccumulator(cfg.MinPaceDistanceKm),
		tally:      gate.NewTally(),
	}
	go s.loop()
	return s
}

func (s *Session) loop() {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case op := <-s.ops:
			op()
		case <-ticker.C:
			s.onTick()
		}
	}
}

// do serializes fn into the actor and waits for it.
func (s *Session) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case <-s.done:
		return ErrClosed
	case s.ops <- func() { errc <- fn() }:
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		// The op itself may have shut the session down (Stop, Close);
		// its result still counts.
		select {
		case err := <-errc:
			return err
		default:
			return ErrClosed
		}
	}
}

// SubscribeMetrics delivers a RunMetrics snapshot after every accepted
// point and every timer tick.
func (s *Session) SubscribeMetrics(ch chan<- metrics.RunMetrics) event.Subscription {
	return s.metricsFeed.Subscribe(ch)
}

func (s *Session) SubscribeStatus(ch chan<- Status) event.Subscription {
	return s.statusFeed.Subscribe(ch)
}

func (s *Session) SubscribeWarnings(ch chan<- Warning) event.Subscription {
	return s.warningFeed.Subscribe(ch)
}

// Recoverable reports the incomplete checkpoint a Start would trip
// over, nil when there is none.
func (s *Session) Recoverable() (*run.Checkpoint, error) {
	var cp *run.Checkpoint
	err := s.do(func() (err error) {
		cp, err = s.store.FindIncompleteCheckpoint(s.UserID)
		return err
	})
	return cp, err
}

// Start moves Idle -> Warmup (or Recording).
// With an incomplete prior checkpoint present and neither Recover nor
// Discard set, Start refuses with ErrCheckpointExists so the caller can
// offer recovery.
func (s *Session) Start(opts StartOptions) error {
	return s.do(func() error { return s.start(opts) })
}

func (s *Session) start(opts StartOptions) error {
	if s.status != StatusIdle {
		return fmt.Errorf("%w: start in %q", ErrBadState, s.status)
	}
	switch opts.Permission {
	case PermissionDenied, PermissionUnsupported:
		return fmt.Errorf("%w: %s", ErrPermission, opts.Permission)
	}

	cp, err := s.store.FindIncompleteCheckpoint(s.UserID)
	if err != nil {
		return err
	}
	if cp != nil {
		switch {
		case opts.Recover:
			s.restore(cp)
		case opts.Discard:
			if err := s.store.DeleteCheckpoint(s.UserID); err != nil {
				return err
			}
			cache.DropCheckpoint(s.UserID)
			cp = nil
		default:
			return ErrCheckpointExists
		}
	}

	now := s.clock.Now()
	if cp == nil {
		s.ID = uuid.NewString()
		s.startedAt = now
	}

	watch, err := s.source.Watch(s.onFix)
	if err != nil {
		return err
	}
	s.watch = watch
	s.watching = true
	s.lastFixAt = now

	recovered := cp != nil
	if s.cfg.Warmup != nil && !opts.SkipWarmup && !recovered {
		s.status = StatusWarmup
		s.logger.Info("Session warming up", "session", s.ID)
	} else {
		s.beginRecording(now)
	}
	s.statusFeed.Send(s.status)
	if s.status == StatusRecording {
		s.flushDurable(now)
	}
	return nil
}

func (s *Session) restore(cp *run.Checkpoint) {
	s.ID = cp.SessionID
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.startedAt = time.UnixMilli(cp.StartedAt)
	s.elapsedRun = time.Duration(cp.ElapsedRunMs) * time.Millisecond
	s.acc.Restore(cp.GpsPath, cp.DistanceKm, cp.DurationSeconds)
	s.tally.Restore(cp.AcceptedPointCount, cp.RejectedPointCount, cp.RejectionReasons)
	s.detector.Restore(cp.AutoPause)
	s.logger.Info("Recovered checkpoint",
		"session", s.ID, "distanceKm", cp.DistanceKm, "points", cp.AcceptedPointCount)
}

// ForceBegin is the "start anyway" override: begin recording without
// waiting for warmup signal quality.
func (s *Session) ForceBegin() error {
	return s.do(func() error {
		if s.status != StatusWarmup {
			return fmt.Errorf("%w: force-begin in %q", ErrBadState, s.status)
		}
		now := s.clock.Now()
		s.beginRecording(now)
		s.statusFeed.Send(s.status)
		s.flushDurable(now)
		return nil
	})
}

func (s *Session) beginRecording(now time.Time) {
	s.status = StatusRecording
	s.resumedAt = now
	s.warmupAccuracies = nil
	s.logger.Info("Session recording", "session", s.ID)
}

// Pause unsubscribes from the fix stream (saving power) but retains the
// last accepted point so Resume computes a correct continuity segment.
func (s *Session) Pause() error {
	return s.do(func() error {
		if s.status != StatusRecording {
			return fmt.Errorf("%w: pause in %q", ErrBadState, s.status)
		}
		now := s.clock.Now()
		s.clearWatch()
		s.elapsedRun += now.Sub(s.resumedAt)
		s.resumedAt = time.Time{}
		s.status = StatusPaused
		s.statusFeed.Send(s.status)
		s.flushDurable(now)
		return nil
	})
}

func (s *Session) Resume() error {
	return s.do(func() error {
		if s.status != StatusPaused {
			return fmt.Errorf("%w: resume in %q", ErrBadState, s.status)
		}
		watch, err := s.source.Watch(s.onFix)
		if err != nil {
			return err
		}
		s.watch = watch
		s.watching = true
		now := s.clock.Now()
		s.resumedAt = now
		s.lastFixAt = now
		s.signalLossWarned = false
		s.status = StatusRecording
		s.statusFeed.Send(s.status)
		return nil
	})
}

// Suspend is the host-about-to-background emergency save: a
// synchronous best-effort durable flush, no lifecycle change.
func (s *Session) Suspend() error {
	return s.do(func() error {
		if s.status != StatusRecording && s.status != StatusPaused {
			return nil
		}
		s.flushDurable(s.clock.Now())
		return nil
	})
}

// Stop finalizes the recording: unsubscribe (idempotent, even when the
// watch handle is zero), final synchronous checkpoint flush, then the
// run record hand-off. A run with zero distance or duration is
// discarded, not saved. On a save failure the in-memory state and the
// checkpoint survive so the caller can Stop again without losing
// computed progress.
func (s *Session) Stop() (*run.Record, error) {
	var rec *run.Record
	err := s.do(func() (err error) {
		rec, err = s.stop()
		return err
	})
	return rec, err
}

func (s *Session) stop() (*run.Record, error) {
	switch s.status {
	case StatusStopped:
		return s.savedRecord, nil
	case StatusIdle:
		return nil, fmt.Errorf("%w: stop in %q", ErrBadState, s.status)
	}

	now := s.clock.Now()
	s.clearWatch()
	if s.status == StatusRecording {
		s.elapsedRun += now.Sub(s.resumedAt)
		s.resumedAt = time.Time{}
	}
	wasWarmup := s.status == StatusWarmup
	s.status = StatusPaused
	if !wasWarmup {
		s.flushDurable(now)
	}
	s.acc.Tick(s.elapsedRun)

	m := s.acc.Metrics()
	if wasWarmup || m.DistanceKm <= 0 || m.DurationSeconds <= 0 {
		// Nothing worth saving. Clean up and go quietly.
		if err := s.store.DeleteCheckpoint(s.UserID); err != nil {
			s.logger.Warn("Failed to delete checkpoint", "error", err)
		}
		cache.DropCheckpoint(s.UserID)
		s.shutdown()
		return nil, nil
	}

	rec := &run.Record{
		ID:              s.ID,
		UserID:          s.UserID,
		StartedAt:       s.startedAt.UnixMilli(),
		EndedAt:         now.UnixMilli(),
		DistanceKm:      metrics.RoundKm(m.DistanceKm),
		DurationSeconds: m.DurationSeconds,
		PaceSecPerKm:    m.PaceSecPerKm,
		Calories:        m.Calories,
		Path:            s.acc.Path(),
		Gps:             s.gpsMetadata(),
	}
	if err := s.store.StoreRun(rec); err != nil {
		// State and checkpoint stay; the caller can retry Stop.
		s.logger.Error("Failed to save run", "session", s.ID, "error", err)
		return nil, fmt.Errorf("save run: %w", err)
	}
	s.logger.Info("Saved run", "session", s.ID,
		"distanceKm", rec.DistanceKm, "duration", time.Duration(rec.DurationSeconds)*time.Second)

	// Checkpoint delete is non-fatal: recovery treats a checkpoint as
	// stale once its parent run exists.
	if err := s.store.DeleteCheckpoint(s.UserID); err != nil {
		s.logger.Warn("Failed to delete checkpoint after save", "error", err)
	}
	cache.DropCheckpoint(s.UserID)

	s.savedRecord = rec
	s.shutdown()
	return rec, nil
}

func (s *Session) shutdown() {
	s.status = StatusStopped
	s.statusFeed.Send(s.status)
	close(s.done)
}

// Close tears the actor down without saving. For daemon shutdown and
// tests; recorded progress stays recoverable via the checkpoint.
func (s *Session) Close() {
	_ = s.do(func() error {
		if s.status == StatusRecording || s.status == StatusPaused {
			s.flushDurable(s.clock.Now())
		}
		s.clearWatch()
		if s.status != StatusStopped {
			s.status = StatusStopped
			s.statusFeed.Send(s.status)
		}
		close(s.done)
		return nil
	})
}

// clearWatch unsubscribes exactly once. The handle value itself proves
// nothing (zero is valid); the watching flag is the truth.
func (s *Session) clearWatch() {
	if !s.watching {
		return
	}
	if err := s.source.Clear(s.watch); err != nil {
		s.logger.Warn("Failed to clear fix watch", "error", err)
	}
	s.watching = false
	s.watch = 0
}

// Status returns the current lifecycle phase.
func (s *Session) Status() Status {
	st := StatusStopped
	_ = s.do(func() error {
		st = s.status
		return nil
	})
	return st
}

// Metrics returns a snapshot of the live metrics.
func (s *Session) Metrics() metrics.RunMetrics {
	var m metrics.RunMetrics
	_ = s.do(func() error {
		m = s.acc.Metrics()
		return nil
	})
	return m
}

// AutoPaused reports whether the detector currently infers "stopped".
func (s *Session) AutoPaused() bool {
	var active bool
	_ = s.do(func() error {
		active = s.detector.Active()
		return nil
	})
	return active
}

// GpsMetadata snapshots the pipeline counters.
func (s *Session) GpsMetadata() metrics.GpsMetadata {
	var md metrics.GpsMetadata
	_ = s.do(func() error {
		md = s.gpsMetadata()
		return nil
	})
	return md
}

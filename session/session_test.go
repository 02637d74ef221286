package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/strideworks/trackd/common"
	"github.com/strideworks/trackd/metrics"
	"github.com/strideworks/trackd/params"
	"github.com/strideworks/trackd/state"
	"github.com/strideworks/trackd/stream"
	"github.com/strideworks/trackd/types/fix"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(ms int64) *fakeClock {
	return &fakeClock{t: time.UnixMilli(ms)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) SetMilli(ms int64) {
	c.mu.Lock()
	c.t = time.UnixMilli(ms)
	c.mu.Unlock()
}

const t0 = int64(1_700_000_000_000)

func testStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSession(t *testing.T, userID string, store *state.Store) (*Session, *PushSource, *fakeClock) {
	t.Helper()
	t.Cleanup(common.SlogResetLevel(slog.Level(slog.LevelWarn + 1)))
	clock := newFakeClock(t0)
	src := NewPushSource()
	sess := New(userID, params.DefaultSessionConfig(), src, store, clock)
	return sess, src, clock
}

// pushAt advances the clock to the fix timestamp and delivers it, the way
// a live watch callback arrives at roughly its own timestamp.
func pushAt(src *PushSource, clock *fakeClock, lat, lng, acc float64, ts int64) {
	clock.SetMilli(ts)
	src.Push(&fix.Fix{Latitude: lat, Longitude: lng, Accuracy: acc, Timestamp: ts})
}

// pushTrack delivers n fixes one second apart, each stepping latitude by
// latStep degrees (0.00003 is roughly 3.3 m/s, a jog). The scripted
// track goes through stream.Slice, the same plumbing replay uses.
func pushTrack(src *PushSource, clock *fakeClock, startTs int64, n int, latStep float64) {
	fixes := make([]*fix.Fix, n)
	for i := range fixes {
		fixes[i] = &fix.Fix{
			Latitude:  40.7128 + float64(i)*latStep,
			Longitude: -74.0060,
			Accuracy:  5,
			Timestamp: startTs + int64(i)*1000,
		}
	}
	for f := range stream.Slice(context.Background(), fixes) {
		clock.SetMilli(f.Timestamp)
		src.Push(f)
	}
}

func TestStartRequiresPermission(t *testing.T) {
	sess, _, _ := testSession(t, "perm", testStore(t))
	defer sess.Close()

	for _, p := range []Permission{PermissionDenied, PermissionUnsupported} {
		err := sess.Start(StartOptions{Permission: p, SkipWarmup: true})
		if !errors.Is(err, ErrPermission) {
			t.Errorf("Start with %q permission: %v", p, err)
		}
	}
	if got := sess.Status(); got != StatusIdle {
		t.Errorf("status after denied start = %q", got)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	sess, _, _ := testSession(t, "lifecycle", testStore(t))
	defer sess.Close()

	if err := sess.Pause(); !errors.Is(err, ErrBadState) {
		t.Errorf("pause while idle: %v", err)
	}
	if err := sess.Resume(); !errors.Is(err, ErrBadState) {
		t.Errorf("resume while idle: %v", err)
	}
	if _, err := sess.Stop(); !errors.Is(err, ErrBadState) {
		t.Errorf("stop while idle: %v", err)
	}

	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}
	if got := sess.Status(); got != StatusRecording {
		t.Fatalf("status after start = %q", got)
	}
	if err := sess.Start(StartOptions{Permission: PermissionGranted}); !errors.Is(err, ErrBadState) {
		t.Errorf("double start: %v", err)
	}

	if err := sess.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := sess.Pause(); !errors.Is(err, ErrBadState) {
		t.Errorf("double pause: %v", err)
	}
	if err := sess.Resume(); err != nil {
		t.Fatal(err)
	}
	if got := sess.Status(); got != StatusRecording {
		t.Errorf("status after resume = %q", got)
	}
}

func TestCountersBalance(t *testing.T) {
	sess, src, clock := testSession(t, "counters", testStore(t))
	defer sess.Close()
	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}

	pushTrack(src, clock, t0+1000, 5, 0.00003)
	// One hopeless accuracy, one duplicate interval, one teleport.
	pushAt(src, clock, 40.713, -74.0060, 250, t0+6000)
	pushAt(src, clock, 40.71293, -74.0060, 5, t0+5100)
	pushAt(src, clock, 40.75, -74.0060, 5, t0+7000)
	distanceBefore := sess.Metrics().DistanceKm
	// After the teleport, a plausible fix near the pre-teleport point is
	// accepted; only the valid segment counts.
	pushAt(src, clock, 40.71297, -74.0060, 5, t0+8000)

	md := sess.GpsMetadata()
	if md.AcceptedPoints+md.RejectedPoints != 9 {
		t.Errorf("accepted %d + rejected %d != 9 observed", md.AcceptedPoints, md.RejectedPoints)
	}
	if md.AcceptedPoints != 6 {
		t.Errorf("accepted = %d, want 6", md.AcceptedPoints)
	}
	got := sess.Metrics().DistanceKm - distanceBefore
	if got < 0.004 || got > 0.007 {
		t.Errorf("post-teleport segment added %v km, want ~0.0056", got)
	}
	if md.RejectionReasons[fix.RejectAccuracy] != 1 {
		t.Errorf("accuracy rejections = %d", md.RejectionReasons[fix.RejectAccuracy])
	}
	if md.RejectionReasons[fix.RejectDuplicate] != 1 {
		t.Errorf("duplicate rejections = %d", md.RejectionReasons[fix.RejectDuplicate])
	}
	if md.RejectionReasons[fix.RejectSpeed] != 1 {
		t.Errorf("speed rejections = %d", md.RejectionReasons[fix.RejectSpeed])
	}
}

func TestDistanceAccumulates(t *testing.T) {
	sess, src, clock := testSession(t, "distance", testStore(t))
	defer sess.Close()
	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}

	// 11 fixes, ten ~3.3m segments: ~33m.
	pushTrack(src, clock, t0+1000, 11, 0.00003)

	m := sess.Metrics()
	if m.DistanceKm < 0.030 || m.DistanceKm > 0.037 {
		t.Errorf("distance = %v km, want ~0.033", m.DistanceKm)
	}
	if m.CurrentSpeedMps < 3.0 || m.CurrentSpeedMps > 3.7 {
		t.Errorf("current speed = %v m/s, want ~3.3", m.CurrentSpeedMps)
	}
	if m.DurationSeconds != 11 {
		t.Errorf("duration = %d s, want 11", m.DurationSeconds)
	}
}

func TestJitterDoesNotAccumulate(t *testing.T) {
	sess, src, clock := testSession(t, "jitter", testStore(t))
	defer sess.Close()
	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}

	pushAt(src, clock, 40.7128, -74.0060, 5, t0+1000)
	before := sess.Metrics().DistanceKm

	// Sub-meter wiggles at good accuracy: noise, not movement.
	pushAt(src, clock, 40.712801, -74.0060, 5, t0+2000)
	pushAt(src, clock, 40.712800, -74.0060, 5, t0+3000)

	if got := sess.Metrics().DistanceKm; got != before {
		t.Errorf("jitter moved the odometer: %v -> %v", before, got)
	}
	md := sess.GpsMetadata()
	if md.RejectionReasons[fix.RejectJitter] != 2 {
		t.Errorf("jitter rejections = %d", md.RejectionReasons[fix.RejectJitter])
	}
}

func TestAutoPauseFreezesDistance(t *testing.T) {
	sess, src, clock := testSession(t, "autopause", testStore(t))
	defer sess.Close()
	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}

	// Jog for a bit, then stand still: ~11cm wiggles, ~0.11 m/s.
	pushTrack(src, clock, t0+1000, 5, 0.00003)
	lastTs := t0 + 5000
	baseLat := 40.7128 + 4*0.00003
	for i := 1; i <= 12; i++ {
		wiggle := float64(i%2) * 0.000001
		pushAt(src, clock, baseLat+wiggle, -74.0060, 5, lastTs+int64(i)*1000)
	}
	if !sess.AutoPaused() {
		t.Fatal("standing still for 12s did not auto-pause")
	}
	frozen := sess.Metrics().DistanceKm

	// Still paused: more standing contributes nothing.
	pushAt(src, clock, baseLat, -74.0060, 5, lastTs+13_000)
	if got := sess.Metrics().DistanceKm; got != frozen {
		t.Errorf("distance moved while auto-paused: %v -> %v", frozen, got)
	}

	// A real stride resumes and counts again.
	pushAt(src, clock, baseLat+0.00003, -74.0060, 5, lastTs+14_000)
	if sess.AutoPaused() {
		t.Error("genuine motion did not resume")
	}
	if got := sess.Metrics().DistanceKm; got <= frozen {
		t.Errorf("distance frozen after resume: %v", got)
	}

	if md := sess.GpsMetadata(); md.AutoPauseCount != 1 {
		t.Errorf("auto-pause count = %d", md.AutoPauseCount)
	}
}

func TestManualPauseDropsFixes(t *testing.T) {
	sess, src, clock := testSession(t, "manualpause", testStore(t))
	defer sess.Close()
	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}
	pushTrack(src, clock, t0+1000, 3, 0.00003)
	md := sess.GpsMetadata()

	if err := sess.Pause(); err != nil {
		t.Fatal(err)
	}
	// The watch is torn down; pushes land nowhere.
	pushTrack(src, clock, t0+10_000, 3, 0.00003)
	after := sess.GpsMetadata()
	if after.AcceptedPoints != md.AcceptedPoints || after.RejectedPoints != md.RejectedPoints {
		t.Errorf("fixes counted while paused: %+v -> %+v", md, after)
	}

	if err := sess.Resume(); err != nil {
		t.Fatal(err)
	}
	// The last pre-pause point is retained; the first post-resume fix
	// forms a continuity segment from it.
	pushAt(src, clock, 40.7128+3*0.00003, -74.0060, 5, t0+20_000)
	if got := sess.GpsMetadata().AcceptedPoints; got != md.AcceptedPoints+1 {
		t.Errorf("accepted after resume = %d", got)
	}
}

func TestStopSavesRun(t *testing.T) {
	store := testStore(t)
	sess, src, clock := testSession(t, "stopsave", store)
	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}
	pushTrack(src, clock, t0+1000, 11, 0.00003)

	rec, err := sess.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("no record for a run with distance")
	}
	if rec.UserID != "stopsave" || rec.DistanceKm <= 0 || rec.DurationSeconds <= 0 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Gps.AcceptedPoints != 11 || len(rec.Path) != 11 {
		t.Errorf("record gps/path = %d/%d", rec.Gps.AcceptedPoints, len(rec.Path))
	}

	// Durably saved, checkpoint gone.
	if !store.HasRun(rec.ID) {
		t.Error("run not in the store")
	}
	if _, err := store.ReadCheckpoint("stopsave"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("checkpoint survived stop: %v", err)
	}

	// The session is shut down; a second stop reports closed.
	if _, err := sess.Stop(); !errors.Is(err, ErrClosed) {
		t.Errorf("second stop: %v", err)
	}
	// Straggler fixes after stop fall on the floor.
	pushAt(src, clock, 40.7128, -74.0060, 5, t0+60_000)
}

// countingSource counts Clear calls; its first watch handle is zero,
// which must not be mistaken for "never subscribed".
type countingSource struct {
	PushSource
	clears int
}

func (c *countingSource) Clear(h WatchHandle) error {
	c.clears++
	return c.PushSource.Clear(h)
}

func TestStopClearsZeroHandleWatchOnce(t *testing.T) {
	store := testStore(t)
	clock := newFakeClock(t0)
	src := &countingSource{}
	t.Cleanup(common.SlogResetLevel(slog.Level(slog.LevelWarn + 1)))
	sess := New("zerohandle", params.DefaultSessionConfig(), src, store, clock)

	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.Stop(); err != nil {
		t.Fatal(err)
	}
	if src.clears != 1 {
		t.Errorf("watch cleared %d times, want exactly 1", src.clears)
	}
}

// Live fixes arrive on HTTP handler goroutines while pause and resume
// rewire the watch from the session's own goroutine; the source has to
// tolerate both at once.
func TestConcurrentPushAndLifecycle(t *testing.T) {
	sess, src, _ := testSession(t, "concurrent", testStore(t))
	defer sess.Close()
	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ts := t0 + 1000
		for {
			select {
			case <-stop:
				return
			default:
			}
			src.Push(&fix.Fix{Latitude: 40.7128, Longitude: -74.0060, Accuracy: 5, Timestamp: ts})
			ts += 1000
		}
	}()

	for i := 0; i < 20; i++ {
		if err := sess.Pause(); err != nil {
			t.Fatal(err)
		}
		if err := sess.Resume(); err != nil {
			t.Fatal(err)
		}
	}

	// Ended on Resume, so the pusher is landing fixes again.
	deadline := time.Now().Add(2 * time.Second)
	for {
		md := sess.GpsMetadata()
		if md.AcceptedPoints+md.RejectedPoints > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no fixes observed during concurrent delivery")
		}
		time.Sleep(time.Millisecond)
	}

	close(stop)
	wg.Wait()
}

func TestStopDiscardsEmptyRun(t *testing.T) {
	store := testStore(t)
	sess, _, _ := testSession(t, "empty", store)
	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}

	rec, err := sess.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Errorf("zero-distance run saved: %+v", rec)
	}
	if _, err := store.ReadCheckpoint("empty"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("checkpoint survived an empty stop: %v", err)
	}
}

func TestRecovery(t *testing.T) {
	store := testStore(t)
	sess, src, clock := testSession(t, "recover", store)
	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}
	pushTrack(src, clock, t0+1000, 11, 0.00003)
	if err := sess.Suspend(); err != nil {
		t.Fatal(err)
	}
	distance := sess.Metrics().DistanceKm
	sess.Close()

	// A fresh session over the same store trips over the checkpoint.
	sess2, src2, clock2 := testSession(t, "recover", store)
	defer sess2.Close()
	err := sess2.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true})
	if !errors.Is(err, ErrCheckpointExists) {
		t.Fatalf("start over a checkpoint: %v", err)
	}
	cp, err := sess2.Recoverable()
	if err != nil {
		t.Fatal(err)
	}
	if cp == nil || cp.DistanceKm != distance || len(cp.GpsPath) != 11 {
		t.Fatalf("recoverable checkpoint = %+v", cp)
	}

	if err := sess2.Start(StartOptions{Permission: PermissionGranted, Recover: true}); err != nil {
		t.Fatal(err)
	}
	if got := sess2.Status(); got != StatusRecording {
		t.Errorf("status after recovery = %q", got)
	}
	if got := sess2.Metrics().DistanceKm; got != distance {
		t.Errorf("recovered distance = %v, want %v", got, distance)
	}

	// Accumulation continues from the recovered last point.
	pushAt(src2, clock2, 40.7128+11*0.00003, -74.0060, 5, t0+60_000)
	if got := sess2.Metrics().DistanceKm; got <= distance {
		t.Errorf("distance after recovered fix = %v", got)
	}
}

func TestDiscardCheckpoint(t *testing.T) {
	store := testStore(t)
	sess, src, clock := testSession(t, "discard", store)
	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}
	pushTrack(src, clock, t0+1000, 11, 0.00003)
	if err := sess.Suspend(); err != nil {
		t.Fatal(err)
	}
	sess.Close()

	sess2, _, _ := testSession(t, "discard", store)
	defer sess2.Close()
	if err := sess2.Start(StartOptions{Permission: PermissionGranted, Discard: true, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}
	if got := sess2.Metrics().DistanceKm; got != 0 {
		t.Errorf("distance after discard = %v", got)
	}
}

func TestWarmupHoldsUntilQuality(t *testing.T) {
	sess, src, clock := testSession(t, "warmup", testStore(t))
	defer sess.Close()
	if err := sess.Start(StartOptions{Permission: PermissionGranted}); err != nil {
		t.Fatal(err)
	}
	if got := sess.Status(); got != StatusWarmup {
		t.Fatalf("status after start = %q", got)
	}

	// Poor signal: median accuracy 80, stays in warmup.
	for i := 0; i < 5; i++ {
		pushAt(src, clock, 40.7128, -74.0060, 80, t0+int64(i+1)*1000)
	}
	if got := sess.Status(); got != StatusWarmup {
		t.Fatalf("recording began on poor signal, status = %q", got)
	}
	// Warmup fixes are quality samples, not pipeline traffic.
	if md := sess.GpsMetadata(); md.AcceptedPoints+md.RejectedPoints != 0 {
		t.Errorf("warmup fixes counted: %+v", md)
	}

	// Signal improves; once the window median clears, recording begins.
	for i := 5; i < 10; i++ {
		pushAt(src, clock, 40.7128, -74.0060, 10, t0+int64(i+1)*1000)
	}
	if got := sess.Status(); got != StatusRecording {
		t.Errorf("status after good signal = %q", got)
	}
}

func TestForceBegin(t *testing.T) {
	sess, _, _ := testSession(t, "force", testStore(t))
	defer sess.Close()

	if err := sess.ForceBegin(); !errors.Is(err, ErrBadState) {
		t.Errorf("force-begin while idle: %v", err)
	}
	if err := sess.Start(StartOptions{Permission: PermissionGranted}); err != nil {
		t.Fatal(err)
	}
	if err := sess.ForceBegin(); err != nil {
		t.Fatal(err)
	}
	if got := sess.Status(); got != StatusRecording {
		t.Errorf("status after force-begin = %q", got)
	}
	if err := sess.ForceBegin(); !errors.Is(err, ErrBadState) {
		t.Errorf("double force-begin: %v", err)
	}
}

func TestSignalLossWarning(t *testing.T) {
	cfg := params.DefaultSessionConfig()
	cfg.TickInterval = 5 * time.Millisecond

	store := testStore(t)
	clock := newFakeClock(t0)
	src := NewPushSource()
	t.Cleanup(common.SlogResetLevel(slog.Level(slog.LevelWarn + 1)))
	sess := New("signal", cfg, src, store, clock)
	defer sess.Close()

	warnings := make(chan Warning, 2)
	sub := sess.SubscribeWarnings(warnings)
	defer sub.Unsubscribe()

	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}
	pushAt(src, clock, 40.7128, -74.0060, 5, t0+1000)

	// 61 seconds of silence on the session clock.
	clock.SetMilli(t0 + 62_000)

	select {
	case w := <-warnings:
		if w.Kind != WarningSignalLoss {
			t.Errorf("warning kind = %q", w.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no signal-loss warning")
	}

	// One warning per silence, not one per tick.
	select {
	case <-warnings:
		t.Error("signal-loss warning repeated")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMetricsFeed(t *testing.T) {
	sess, src, clock := testSession(t, "feed", testStore(t))
	defer sess.Close()

	updates := make(chan metrics.RunMetrics, 16)
	sub := sess.SubscribeMetrics(updates)
	defer sub.Unsubscribe()

	statuses := make(chan Status, 8)
	ssub := sess.SubscribeStatus(statuses)
	defer ssub.Unsubscribe()

	if err := sess.Start(StartOptions{Permission: PermissionGranted, SkipWarmup: true}); err != nil {
		t.Fatal(err)
	}
	select {
	case st := <-statuses:
		if st != StatusRecording {
			t.Errorf("first status event = %q", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status event on start")
	}

	pushTrack(src, clock, t0+1000, 2, 0.00003)
	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("no metrics event after accepted fixes")
	}
}

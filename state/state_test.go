package state

import (
	"errors"
	"testing"

	"github.com/strideworks/trackd/types/fix"
	"github.com/strideworks/trackd/types/run"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testCheckpoint(userID, sessionID string) *run.Checkpoint {
	path := []fix.AcceptedPoint{
		{Lat: 40.7128, Lng: -74.0060, Timestamp: 1_700_000_000_000, Accuracy: 5},
		{Lat: 40.7129, Lng: -74.0060, Timestamp: 1_700_000_001_000, Accuracy: 5},
	}
	return &run.Checkpoint{
		SessionID:          sessionID,
		UserID:             userID,
		Status:             run.StatusRecording,
		StartedAt:          1_700_000_000_000,
		LastCheckpointAt:   1_700_000_001_000,
		DistanceKm:         0.01,
		DurationSeconds:    1,
		ElapsedRunMs:       1000,
		GpsPath:            path,
		LastRecordedPoint:  &path[1],
		AcceptedPointCount: 2,
		RejectedPointCount: 1,
		RejectionReasons:   map[fix.RejectionReason]int{fix.RejectJitter: 1},
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := testStore(t)
	cp := testCheckpoint("alice", "run-1")
	if err := s.StoreCheckpoint(cp); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadCheckpoint("alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != cp.SessionID || got.DistanceKm != cp.DistanceKm {
		t.Errorf("read checkpoint = %+v", got)
	}
	if len(got.GpsPath) != 2 || got.GpsPath[1].Timestamp != 1_700_000_001_000 {
		t.Errorf("path did not round-trip: %+v", got.GpsPath)
	}
	if got.RejectionReasons[fix.RejectJitter] != 1 {
		t.Errorf("reasons did not round-trip: %v", got.RejectionReasons)
	}
}

func TestStoreCheckpointValidates(t *testing.T) {
	s := testStore(t)
	cp := testCheckpoint("alice", "run-1")
	cp.AcceptedPointCount = 7 // out of step with the path
	if err := s.StoreCheckpoint(cp); err == nil {
		t.Error("stored an inconsistent checkpoint")
	}
}

func TestReadCheckpointNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.ReadCheckpoint("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteCheckpoint(t *testing.T) {
	s := testStore(t)
	if err := s.StoreCheckpoint(testCheckpoint("alice", "run-1")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteCheckpoint("alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadCheckpoint("alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("checkpoint survived delete: %v", err)
	}
	// Deleting a missing checkpoint is not an error.
	if err := s.DeleteCheckpoint("nobody"); err != nil {
		t.Error(err)
	}
}

func TestRunRoundTrip(t *testing.T) {
	s := testStore(t)
	rec := &run.Record{
		ID:              "run-1",
		UserID:          "alice",
		StartedAt:       1_700_000_000_000,
		EndedAt:         1_700_001_800_000,
		DistanceKm:      5.02,
		DurationSeconds: 1800,
		PaceSecPerKm:    358.6,
		Calories:        301,
	}
	if err := s.StoreRun(rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.DistanceKm != 5.02 || got.DurationSeconds != 1800 {
		t.Errorf("read run = %+v", got)
	}
	if !s.HasRun("run-1") {
		t.Error("HasRun false for a stored run")
	}
	if s.HasRun("run-2") {
		t.Error("HasRun true for a missing run")
	}
}

func TestStoreRunRequiresID(t *testing.T) {
	s := testStore(t)
	if err := s.StoreRun(&run.Record{UserID: "alice"}); err == nil {
		t.Error("stored a run without an id")
	}
}

func TestEachRunStopsEarly(t *testing.T) {
	s := testStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.StoreRun(&run.Record{ID: id, UserID: "alice"}); err != nil {
			t.Fatal(err)
		}
	}
	seen := 0
	err := s.EachRun(func(rec *run.Record) bool {
		seen++
		return seen < 2
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 2 {
		t.Errorf("saw %d runs, want 2", seen)
	}
}

func TestEachRunEmptyStore(t *testing.T) {
	s := testStore(t)
	err := s.EachRun(func(rec *run.Record) bool {
		t.Error("callback on an empty store")
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFindIncompleteCheckpoint(t *testing.T) {
	s := testStore(t)

	// Nothing stored: nothing to recover, and no error.
	cp, err := s.FindIncompleteCheckpoint("alice")
	if err != nil || cp != nil {
		t.Fatalf("empty store: cp=%v err=%v", cp, err)
	}

	if err := s.StoreCheckpoint(testCheckpoint("alice", "run-1")); err != nil {
		t.Fatal(err)
	}
	cp, err = s.FindIncompleteCheckpoint("alice")
	if err != nil {
		t.Fatal(err)
	}
	if cp == nil || cp.SessionID != "run-1" {
		t.Fatalf("recoverable checkpoint = %+v", cp)
	}
}

func TestFindIncompleteCheckpointDropsStale(t *testing.T) {
	s := testStore(t)
	if err := s.StoreCheckpoint(testCheckpoint("alice", "run-1")); err != nil {
		t.Fatal(err)
	}
	// The parent run exists: the checkpoint is leftover from a failed
	// post-save delete, not recoverable progress.
	if err := s.StoreRun(&run.Record{ID: "run-1", UserID: "alice"}); err != nil {
		t.Fatal(err)
	}

	cp, err := s.FindIncompleteCheckpoint("alice")
	if err != nil {
		t.Fatal(err)
	}
	if cp != nil {
		t.Errorf("stale checkpoint offered for recovery: %+v", cp)
	}
	// And it was cleaned up, not just skipped.
	if _, err := s.ReadCheckpoint("alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale checkpoint not deleted: %v", err)
	}
}

// Package state is the durable persistence tier: checkpoints for
// in-progress recordings and records for finished runs, in one bbolt
// database under the datadir.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/strideworks/trackd/params"
	"github.com/strideworks/trackd/types/run"
	"go.etcd.io/bbolt"
)

// ErrNotFound distinguishes an absent key from a broken store.
var ErrNotFound = errors.New("not found")

// Store owns the bbolt handle. Opening a writable conn blocks all other
// writers and readers with essentially a file lock/flock, which is the
// single-writer guarantee we want per datadir.
type Store struct {
	DB     *bbolt.DB
	logger *slog.Logger
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		root = params.DatadirRoot
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filepath.Join(root, params.TrackStateDBName), 0600, nil)
	if err != nil {
		return nil, err
	}
	return &Store{
		DB:     db,
		logger: slog.With("d", "state"),
	}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) storeKV(bucket, key, data []byte) error {
	if key == nil {
		return fmt.Errorf("storeKV: nil key")
	}
	if data == nil {
		return fmt.Errorf("storeKV: nil data")
	}
	return s.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *Store) readKV(bucket, key []byte) ([]byte, error) {
	var out []byte
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return ErrNotFound
		}
		// The value returned by Get is only valid in the scope of the transaction.
		got := b.Get(key)
		if got == nil {
			return ErrNotFound
		}
		out = append(out, got...)
		return nil
	})
	return out, err
}

// StoreCheckpoint flushes a checkpoint snapshot, keyed by user.
// One in-progress recording per user.
func (s *Store) StoreCheckpoint(cp *run.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if err := s.storeKV(params.CheckpointBucket, []byte(cp.UserID), b); err != nil {
		s.logger.Error("Failed to store checkpoint", "user", cp.UserID, "error", err)
		return err
	}
	s.logger.Debug("Stored checkpoint",
		"user", cp.UserID, "status", cp.Status, "points", cp.AcceptedPointCount)
	return nil
}

func (s *Store) ReadCheckpoint(userID string) (*run.Checkpoint, error) {
	got, err := s.readKV(params.CheckpointBucket, []byte(userID))
	if err != nil {
		return nil, err
	}
	cp := &run.Checkpoint{}
	if err := json.Unmarshal(got, cp); err != nil {
		return nil, fmt.Errorf("%w: %q", err, string(got))
	}
	return cp, nil
}

func (s *Store) DeleteCheckpoint(userID string) error {
	return s.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(params.CheckpointBucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(userID))
	})
}

// StoreRun persists a finished run record, keyed by run ID.
func (s *Store) StoreRun(rec *run.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("run record missing id")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.storeKV(params.RunBucket, []byte(rec.ID), b)
}

func (s *Store) ReadRun(id string) (*run.Record, error) {
	got, err := s.readKV(params.RunBucket, []byte(id))
	if err != nil {
		return nil, err
	}
	rec := &run.Record{}
	if err := json.Unmarshal(got, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// HasRun reports whether a run record exists for the given ID.
func (s *Store) HasRun(id string) bool {
	_, err := s.readKV(params.RunBucket, []byte(id))
	return err == nil
}

// EachRun iterates stored run records. The callback returning false
// stops the iteration.
func (s *Store) EachRun(fn func(rec *run.Record) bool) error {
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(params.RunBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			rec := &run.Record{}
			if err := json.Unmarshal(v, rec); err != nil {
				return err
			}
			if !fn(rec) {
				return errStopIteration
			}
			return nil
		})
	})
	if errors.Is(err, errStopIteration) {
		return nil
	}
	return err
}

var errStopIteration = errors.New("stop iteration")

// FindIncompleteCheckpoint returns a recoverable checkpoint for the
// user, or nil when there is nothing to recover. A checkpoint whose
// parent run already exists is stale (the run was saved; only the
// delete failed) and is cleaned up here rather than offered.
func (s *Store) FindIncompleteCheckpoint(userID string) (*run.Checkpoint, error) {
	cp, err := s.ReadCheckpoint(userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cp.SessionID != "" && s.HasRun(cp.SessionID) {
		s.logger.Info("Dropping stale checkpoint, run already saved",
			"user", userID, "session", cp.SessionID)
		if err := s.DeleteCheckpoint(userID); err != nil {
			s.logger.Warn("Failed to delete stale checkpoint", "user", userID, "error", err)
		}
		return nil, nil
	}
	return cp, nil
}

// Package run defines the persisted shapes of an in-progress recording
// (the checkpoint) and a finished run (the record).
package run

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/strideworks/trackd/geo/autopause"
	"github.com/strideworks/trackd/metrics"
	"github.com/strideworks/trackd/types/fix"
)

// Status is the checkpointed lifecycle phase. Only phases with
// recoverable progress are checkpointed.
type Status string

const (
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
)

// Checkpoint is the full mutable recording state, snapshotted so an
// interrupted session can be resumed. It is created at session start,
// mutated on every accepted point and lifecycle transition, and deleted
// only after the finished run is durably saved. Always written as a
// consistent snapshot, never mid-mutation.
type Checkpoint struct {
	SessionID        string  `json:"sessionId,omitempty"`
	UserID           string  `json:"userId"`
	Status           Status  `json:"status"`
	StartedAt        int64   `json:"startedAt"`
	LastCheckpointAt int64   `json:"lastCheckpointAt"`
	DistanceKm       float64 `json:"distanceKm"`
	DurationSeconds  int     `json:"durationSeconds"`
	ElapsedRunMs     int64   `json:"elapsedRunMs"`

	GpsPath           []fix.AcceptedPoint `json:"gpsPath"`
	LastRecordedPoint *fix.AcceptedPoint  `json:"lastRecordedPoint,omitempty"`

	AutoPause          autopause.State             `json:"autoPause"`
	AutoPauseCount     int                         `json:"autoPauseCount"`
	AcceptedPointCount int                         `json:"acceptedPointCount"`
	RejectedPointCount int                         `json:"rejectedPointCount"`
	RejectionReasons   map[fix.RejectionReason]int `json:"rejectionReasons,omitempty"`
}

func (c *Checkpoint) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("checkpoint missing userId")
	}
	if c.Status != StatusRecording && c.Status != StatusPaused {
		return fmt.Errorf("checkpoint bad status: %q", c.Status)
	}
	if c.AcceptedPointCount != len(c.GpsPath) {
		return fmt.Errorf("checkpoint count mismatch: %d accepted, %d path points",
			c.AcceptedPointCount, len(c.GpsPath))
	}
	return nil
}

// Record is a finished run, the payload handed to persistence.
// DistanceKm is rounded to 2 decimals; the path is the full accepted
// point history including points appended while auto-paused.
type Record struct {
	ID              string  `json:"id"`
	UserID          string  `json:"userId"`
	StartedAt       int64   `json:"startedAt"`
	EndedAt         int64   `json:"endedAt"`
	DistanceKm      float64 `json:"distanceKm"`
	DurationSeconds int     `json:"durationSeconds"`
	PaceSecPerKm    float64 `json:"paceSecPerKm"`
	Calories        int     `json:"calories"`

	Path []fix.AcceptedPoint `json:"path"`
	Gps  metrics.GpsMetadata `json:"gpsMetadata"`
}

// GeoJSONFeature renders the run as a LineString feature, for map
// display and export.
func (r *Record) GeoJSONFeature() *geojson.Feature {
	ls := make(orb.LineString, 0, len(r.Path))
	for _, p := range r.Path {
		ls = append(ls, p.Point())
	}
	f := geojson.NewFeature(ls)
	f.ID = r.ID
	f.Properties["userId"] = r.UserID
	f.Properties["startedAt"] = r.StartedAt
	f.Properties["endedAt"] = r.EndedAt
	f.Properties["distanceKm"] = r.DistanceKm
	f.Properties["durationSeconds"] = r.DurationSeconds
	f.Properties["paceSecPerKm"] = r.PaceSecPerKm
	return f
}

func (r *Record) StringPretty() string {
	return fmt.Sprintf("%s %s %.2fkm %s",
		r.UserID,
		time.UnixMilli(r.StartedAt).In(time.Local).Format("2006-01-02 15:04"),
		r.DistanceKm,
		time.Duration(r.DurationSeconds)*time.Second)
}

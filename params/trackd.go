package params

import (
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
)

const TrackStateDBName = "trackd.db"

var (
	CheckpointBucket = []byte("checkpoints")
	RunBucket        = []byte("runs")
)

var (
	CacheLastKnownTTL  = 7 * 24 * time.Hour
	CacheCheckpointTTL = 24 * time.Hour
)

// DedupeCacheSize bounds the per-user ingest dedupe LRU.
var DedupeCacheSize = 10_000

// DatadirRoot is where trackd keeps its state databases.
var DatadirRoot = func() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".trackd"
	}
	return filepath.Join(home, ".trackd")
}()

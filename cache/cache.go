// Package cache is the fast, in-memory persistence tier.
// It absorbs the per-point checkpoint writes so the durable store only
// sees interval/lifecycle flushes. Durable always wins on recovery if
// both tiers hold a snapshot.
package cache

import (
	"fmt"

	"github.com/golang/groupcache/lru"
	"github.com/jellydator/ttlcache/v3"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/strideworks/trackd/params"
	"github.com/strideworks/trackd/types/fix"
	"github.com/strideworks/trackd/types/run"
)

// LastKnownTTLCache holds the most recent raw fix per user,
// for the daemon's /last endpoint.
var LastKnownTTLCache = ttlcache.New[string, *fix.Fix](
	ttlcache.WithTTL[string, *fix.Fix](params.CacheLastKnownTTL))

// CheckpointTTLCache is the cheap synchronous snapshot written after
// every accepted point, keyed by user.
var CheckpointTTLCache = ttlcache.New[string, *run.Checkpoint](
	ttlcache.WithTTL[string, *run.Checkpoint](params.CacheCheckpointTTL))

func SetLastKnown(userID string, f *fix.Fix) {
	LastKnownTTLCache.Set(userID, f, ttlcache.DefaultTTL)
}

func LastKnown(userID string) *fix.Fix {
	item := LastKnownTTLCache.Get(userID)
	if item == nil {
		return nil
	}
	return item.Value()
}

func SetCheckpoint(cp *run.Checkpoint) {
	CheckpointTTLCache.Set(cp.UserID, cp, ttlcache.DefaultTTL)
}

func Checkpoint(userID string) *run.Checkpoint {
	item := CheckpointTTLCache.Get(userID)
	if item == nil {
		return nil
	}
	return item.Value()
}

func DropCheckpoint(userID string) {
	CheckpointTTLCache.Delete(userID)
}

// NewDedupePassLRUFunc returns a predicate that is true the first time
// it sees a fix and false for byte-identical repeats, using an LRU of
// structural hashes. Clients re-send batches after flaky uploads;
// repeats must not inflate the observed-fix counters.
func NewDedupePassLRUFunc() func(fix.Fix) bool {
	dedupeCache := lru.New(params.DedupeCacheSize)
	return func(f fix.Fix) bool {
		hash, err := hashstructure.Hash(f, hashstructure.FormatV2, nil)
		if err != nil {
			return false
		}
		key := fmt.Sprintf("%d", hash)
		if _, ok := dedupeCache.Get(key); ok {
			return false
		}
		dedupeCache.Add(key, true)
		return true
	}
}

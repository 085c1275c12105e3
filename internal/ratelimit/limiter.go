// Package ratelimit enforces the per-identity daily request quota. Counters
// live in the durable key-value store; all mutation for a given identity is
// routed through a single per-identity lock so concurrent requests cannot both
// observe a stale pre-increment count.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mogeko6347/rocket-search-gateway/internal/kv"
	log "github.com/sirupsen/logrus"
)

const (
	// recordKeyPrefix namespaces quota records in the shared store.
	recordKeyPrefix = "ratelimit:"

	// cleanupGrace is how long after a bucket fully expires before its record
	// becomes eligible for deletion.
	cleanupGrace = time.Hour
)

// Record is the durable per-identity quota state. WindowStart is aligned to a
// fixed bucket boundary (floor(now / window) * window), not a sliding window
// from first use.
type Record struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"window_start"`
}

// Limiter maintains per-identity counters over fixed epoch-aligned buckets.
type Limiter struct {
	store  kv.Store
	limit  atomic.Int64
	window time.Duration
	locks  sync.Map // uid -> *sync.Mutex

	// now is swappable for tests.
	now func() time.Time
}

// New creates a limiter that admits up to limit requests per identity per
// window.
func New(store kv.Store, limit int, window time.Duration) *Limiter {
	l := &Limiter{
		store:  store,
		window: window,
		now:    time.Now,
	}
	l.limit.Store(int64(limit))
	return l
}

// Limit returns the currently configured per-window limit.
func (l *Limiter) Limit() int {
	return int(l.limit.Load())
}

// SetLimit updates the per-window limit. Used by config hot reload.
func (l *Limiter) SetLimit(limit int) {
	if limit > 0 {
		l.limit.Store(int64(limit))
	}
}

// bucketStart computes the fixed bucket boundary containing t.
func (l *Limiter) bucketStart(t time.Time) int64 {
	windowSec := int64(l.window / time.Second)
	return t.Unix() / windowSec * windowSec
}

func recordKey(uid string) string {
	return recordKeyPrefix + uid
}

// lockFor returns the identity's mutex already locked. The sweeper drops
// registry entries for identities it evicts, so after acquiring the mutex the
// registry is re-checked: a waiter that won a mutex the sweeper just removed
// retries against the fresh entry instead of serializing on a dead lock.
func (l *Limiter) lockFor(uid string) *sync.Mutex {
	for {
		entry, _ := l.locks.LoadOrStore(uid, &sync.Mutex{})
		mu := entry.(*sync.Mutex)
		mu.Lock()
		if current, ok := l.locks.Load(uid); ok && current == entry {
			return mu
		}
		mu.Unlock()
	}
}

// load reads the identity's record, applying the bucket-aware reset: a missing
// record or one from a different bucket counts as zero.
func (l *Limiter) load(ctx context.Context, uid string, currentBucket int64) (Record, error) {
	value, ok, err := l.store.Get(ctx, recordKey(uid))
	if err != nil {
		return Record{}, fmt.Errorf("ratelimit: load record for %s: %w", uid, err)
	}
	if !ok {
		return Record{WindowStart: currentBucket}, nil
	}
	var rec Record
	if err = json.Unmarshal(value, &rec); err != nil {
		return Record{}, fmt.Errorf("ratelimit: decode record for %s: %w", uid, err)
	}
	if rec.WindowStart != currentBucket {
		// A record from another bucket resets to zero; no remainder carries over.
		return Record{WindowStart: currentBucket}, nil
	}
	return rec, nil
}

// CheckAndIncrement admits the request and increments the identity's counter,
// or rejects it without mutating state once the quota is exhausted. The
// read-modify-write is linearizable per identity.
func (l *Limiter) CheckAndIncrement(ctx context.Context, uid string) (bool, error) {
	mu := l.lockFor(uid)
	defer mu.Unlock()

	currentBucket := l.bucketStart(l.now())
	rec, err := l.load(ctx, uid, currentBucket)
	if err != nil {
		return false, err
	}

	limit := l.Limit()
	if rec.Count >= limit {
		log.WithFields(log.Fields{"uid": uid, "count": rec.Count, "limit": limit}).Debug("quota exhausted")
		return false, nil
	}

	rec.Count++
	rec.WindowStart = currentBucket
	value, err := json.Marshal(&rec)
	if err != nil {
		return false, fmt.Errorf("ratelimit: encode record for %s: %w", uid, err)
	}
	// The physical TTL is hygiene only: the bucket comparison in load already
	// treats stale records as reset.
	if err = l.store.Put(ctx, recordKey(uid), value, l.window+cleanupGrace); err != nil {
		return false, fmt.Errorf("ratelimit: store record for %s: %w", uid, err)
	}
	return true, nil
}

// CurrentCount reports the identity's spent quota in the current bucket
// without mutating anything. Used for diagnostics.
func (l *Limiter) CurrentCount(ctx context.Context, uid string) (int, error) {
	rec, err := l.load(ctx, uid, l.bucketStart(l.now()))
	if err != nil {
		return 0, err
	}
	return rec.Count, nil
}

// StartCleanup launches a background sweeper that deletes records whose bucket
// has fully expired plus a grace period. It runs until ctx is canceled.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep(ctx)
			}
		}
	}()
}

func (l *Limiter) sweep(ctx context.Context) {
	keys, err := l.store.Keys(ctx, recordKeyPrefix)
	if err != nil {
		log.Warnf("ratelimit cleanup: list records: %v", err)
		return
	}
	removed := 0
	for _, key := range keys {
		uid := strings.TrimPrefix(key, recordKeyPrefix)
		// Staleness is re-checked under the identity's lock so a request that
		// slipped in and refreshed the record is never swept away. Evicting the
		// record also evicts its registry mutex, keeping the registry bounded by
		// recently active identities.
		mu := l.lockFor(uid)
		if l.recordStale(ctx, key) {
			if errDelete := l.store.Delete(ctx, key); errDelete != nil {
				log.Warnf("ratelimit cleanup: delete %s: %v", key, errDelete)
				mu.Unlock()
				continue
			}
			l.locks.Delete(uid)
			removed++
		}
		mu.Unlock()
	}
	if removed > 0 {
		log.Debugf("ratelimit cleanup removed %d stale records", removed)
	}
}

// recordStale reports whether the record under key has outlived its bucket
// plus the grace period. A missing or undecodable record counts as stale.
func (l *Limiter) recordStale(ctx context.Context, key string) bool {
	value, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return false
	}
	if !ok {
		return true
	}
	var rec Record
	if err = json.Unmarshal(value, &rec); err != nil {
		return true
	}
	expiry := time.Unix(rec.WindowStart, 0).Add(l.window + cleanupGrace)
	return l.now().After(expiry)
}

package ratelimit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mogeko6347/rocket-search-gateway/internal/kv"
)

func newTestLimiter(t *testing.T, limit int) (*Limiter, *kv.MemoryStore) {
	t.Helper()
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return New(store, limit, 24*time.Hour), store
}

func TestCheckAndIncrement_EnforcesLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 20)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		allowed, err := l.CheckAndIncrement(ctx, "user-1")
		if err != nil {
			t.Fatalf("CheckAndIncrement #%d failed: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}

	allowed, err := l.CheckAndIncrement(ctx, "user-1")
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if allowed {
		t.Error("request 21 should be rejected")
	}

	// Rejection must not mutate the counter.
	count, err := l.CurrentCount(ctx, "user-1")
	if err != nil {
		t.Fatalf("CurrentCount failed: %v", err)
	}
	if count != 20 {
		t.Errorf("expected count 20 after rejection, got %d", count)
	}
}

func TestCheckAndIncrement_IdentitiesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1)
	ctx := context.Background()

	if allowed, _ := l.CheckAndIncrement(ctx, "user-1"); !allowed {
		t.Fatal("user-1 first request should be admitted")
	}
	if allowed, _ := l.CheckAndIncrement(ctx, "user-1"); allowed {
		t.Error("user-1 second request should be rejected")
	}
	if allowed, _ := l.CheckAndIncrement(ctx, "user-2"); !allowed {
		t.Error("user-2 should not be affected by user-1's quota")
	}
}

func TestCheckAndIncrement_BucketBoundaryResets(t *testing.T) {
	l, _ := newTestLimiter(t, 2)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	_, _ = l.CheckAndIncrement(ctx, "user-1")
	_, _ = l.CheckAndIncrement(ctx, "user-1")
	if allowed, _ := l.CheckAndIncrement(ctx, "user-1"); allowed {
		t.Fatal("third request in bucket should be rejected")
	}

	// Crossing midnight UTC moves into a new fixed bucket; the prior count no
	// longer applies regardless of how recently it was written.
	l.now = func() time.Time { return base.Add(2 * time.Hour) }
	if allowed, _ := l.CheckAndIncrement(ctx, "user-1"); !allowed {
		t.Error("first request of the new bucket should be admitted")
	}
	count, _ := l.CurrentCount(ctx, "user-1")
	if count != 1 {
		t.Errorf("new bucket should restart from zero, got count %d", count)
	}
}

func TestCheckAndIncrement_ConcurrentRequestsNeverOveradmit(t *testing.T) {
	const limit = 20
	const extra = 15
	l, _ := newTestLimiter(t, limit)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	rejected := 0

	for i := 0; i < limit+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := l.CheckAndIncrement(ctx, "user-1")
			if err != nil {
				t.Errorf("CheckAndIncrement failed: %v", err)
				return
			}
			mu.Lock()
			if allowed {
				admitted++
			} else {
				rejected++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if admitted != limit {
		t.Errorf("expected exactly %d admitted, got %d", limit, admitted)
	}
	if rejected != extra {
		t.Errorf("expected exactly %d rejected, got %d", extra, rejected)
	}
}

func TestCurrentCount_DoesNotMutate(t *testing.T) {
	l, _ := newTestLimiter(t, 5)
	ctx := context.Background()

	_, _ = l.CheckAndIncrement(ctx, "user-1")
	for i := 0; i < 3; i++ {
		count, err := l.CurrentCount(ctx, "user-1")
		if err != nil {
			t.Fatalf("CurrentCount failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected count 1, got %d", count)
		}
	}
}

func TestCurrentCount_UnknownIdentity(t *testing.T) {
	l, _ := newTestLimiter(t, 5)
	count, err := l.CurrentCount(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("CurrentCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 for unknown identity, got %d", count)
	}
}

func TestSetLimit_AppliesImmediately(t *testing.T) {
	l, _ := newTestLimiter(t, 1)
	ctx := context.Background()

	_, _ = l.CheckAndIncrement(ctx, "user-1")
	if allowed, _ := l.CheckAndIncrement(ctx, "user-1"); allowed {
		t.Fatal("second request should be rejected at limit 1")
	}

	l.SetLimit(3)
	if allowed, _ := l.CheckAndIncrement(ctx, "user-1"); !allowed {
		t.Error("raising the limit should admit the next request")
	}
}

func TestSweep_RemovesExpiredBuckets(t *testing.T) {
	store := kv.NewMemoryStore()
	defer func() { _ = store.Close() }()
	l := New(store, 20, 24*time.Hour)
	ctx := context.Background()

	old := Record{Count: 7, WindowStart: time.Now().Add(-72 * time.Hour).Unix()}
	oldValue, _ := json.Marshal(&old)
	_ = store.Put(ctx, recordKey("stale-user"), oldValue, 0)

	_, _ = l.CheckAndIncrement(ctx, "fresh-user")

	l.sweep(ctx)

	if _, ok, _ := store.Get(ctx, recordKey("stale-user")); ok {
		t.Error("stale record should have been swept")
	}
	if _, ok, _ := store.Get(ctx, recordKey("fresh-user")); !ok {
		t.Error("fresh record must survive the sweep")
	}
}

func TestSweep_PrunesLockRegistry(t *testing.T) {
	store := kv.NewMemoryStore()
	defer func() { _ = store.Close() }()
	l := New(store, 20, 24*time.Hour)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	_, _ = l.CheckAndIncrement(ctx, "stale-user")

	l.now = func() time.Time { return base.Add(72 * time.Hour) }
	_, _ = l.CheckAndIncrement(ctx, "fresh-user")

	l.sweep(ctx)

	// Evicting a record must also evict its registry mutex, or the registry
	// grows by one entry per identity ever seen.
	if _, ok := l.locks.Load("stale-user"); ok {
		t.Error("swept identity should no longer hold a registry lock")
	}
	if _, ok := l.locks.Load("fresh-user"); !ok {
		t.Error("active identity must keep its registry lock")
	}

	// The registry must stay usable for an identity that comes back.
	if allowed, err := l.CheckAndIncrement(ctx, "stale-user"); err != nil || !allowed {
		t.Errorf("returning identity should be admitted, allowed=%v err=%v", allowed, err)
	}
}

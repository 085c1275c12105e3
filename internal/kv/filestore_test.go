package kv

import (
	"context"
	"testing"
	"time"
)

func TestFileStore_RoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	if err = s.Put(ctx, "ratelimit:uid/with:odd chars", []byte(`{"count":3}`), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	value, ok, err := s.Get(ctx, "ratelimit:uid/with:odd chars")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(value) != `{"count":3}` {
		t.Errorf("round trip mismatch: ok=%v value=%q", ok, value)
	}
}

func TestFileStore_ExpiredTreatedAsAbsent(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	if err = s.Put(ctx, "short-lived", []byte("v"), time.Millisecond); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "short-lived"); ok {
		t.Error("expired entry should be treated as absent")
	}
}

func TestFileStore_KeysAndDelete(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	_ = s.Put(ctx, "verified:d1", []byte("u1"), 0)
	_ = s.Put(ctx, "verified:d2", []byte("u2"), 0)
	_ = s.Put(ctx, "other", []byte("x"), 0)

	keys, err := s.Keys(ctx, "verified:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 verified keys, got %d (%v)", len(keys), keys)
	}

	if err = s.Delete(ctx, "verified:d1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "verified:d1"); ok {
		t.Error("deleted key should be absent")
	}
	if err = s.Delete(ctx, "verified:d1"); err != nil {
		t.Errorf("deleting a missing key should not error: %v", err)
	}
}

// Package kv provides the durable key-value primitive backing the gateway's
// shared state: the verified-token cache and the per-identity quota records.
// Several backends are available; all of them treat an expired entry as absent
// on read, so physical deletion of expired data is hygiene rather than a
// correctness requirement.
package kv

import (
	"context"
	"time"
)

// Store is an atomic get/put key-value store with per-entry time-to-live.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is
	// absent or its entry has expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Put stores value under key. A ttl <= 0 stores the entry without expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry stored under key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the keys currently stored under the given prefix, including
	// expired entries that have not been swept yet.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// envelope is the serialized form used by backends without native TTL support.
type envelope struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (e *envelope) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

func expiryFor(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}

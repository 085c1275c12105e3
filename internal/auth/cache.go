package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mogeko6347/rocket-search-gateway/internal/kv"
)

// verifiedKeyPrefix namespaces verification-cache entries in the shared store.
const verifiedKeyPrefix = "verified:"

// VerificationCache maps a digest of a raw identity token to the uid a full
// verification produced. Only the digest is stored, never the credential, so
// the shared store never holds bearer tokens in plaintext.
type VerificationCache struct {
	store kv.Store
	ttl   time.Duration
}

// NewVerificationCache creates a cache over the given store with the given
// entry lifetime.
func NewVerificationCache(store kv.Store, ttl time.Duration) *VerificationCache {
	return &VerificationCache{store: store, ttl: ttl}
}

// DigestToken computes the cache key for a raw token: a hex-encoded SHA-256
// digest.
func DigestToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached uid for a token digest, if present and unexpired.
func (c *VerificationCache) Lookup(ctx context.Context, digest string) (string, bool, error) {
	value, ok, err := c.store.Get(ctx, verifiedKeyPrefix+digest)
	if err != nil {
		return "", false, fmt.Errorf("auth: verification cache lookup: %w", err)
	}
	if !ok || len(value) == 0 {
		return "", false, nil
	}
	return string(value), true, nil
}

// Store records a digest -> uid mapping with the cache TTL. Writing the same
// uid for the same digest twice is harmless, so concurrent writers need no
// coordination.
func (c *VerificationCache) Store(ctx context.Context, digest, uid string) error {
	if err := c.store.Put(ctx, verifiedKeyPrefix+digest, []byte(uid), c.ttl); err != nil {
		return fmt.Errorf("auth: verification cache store: %w", err)
	}
	return nil
}

// Package auth implements identity-token verification for the gateway: a
// public signing-key source, the JWT verifier, and the verified-token cache
// that avoids re-verifying the same credential on every request.
package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// defaultKeyTTL is used when the certificate feed does not advertise a
// Cache-Control max-age.
const defaultKeyTTL = time.Hour

// KeySource fetches and caches the RSA public keys used to validate identity
// token signatures. Keys are served as a JSON map of key ID to PEM-encoded
// x509 certificate; the feed's Cache-Control max-age bounds the cache.
type KeySource struct {
	url    string
	client *http.Client

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// NewKeySource creates a key source backed by the given certificate feed URL.
func NewKeySource(url string) *KeySource {
	return &KeySource{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// PublicKey resolves the RSA public key for the given key ID, refreshing the
// cached key set when it is stale or the ID is unknown.
func (s *KeySource) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	key, ok := s.keys[kid]
	fresh := time.Now().Before(s.expiresAt)
	s.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	// Collapse concurrent refreshes into one fetch.
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	key, ok = s.keys[kid]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("auth: no signing key for kid %q", kid)
	}
	return key, nil
}

func (s *KeySource) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("auth: build key request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: fetch signing keys: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: signing key feed returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("auth: read signing keys: %w", err)
	}

	var certs map[string]string
	if err = json.Unmarshal(body, &certs); err != nil {
		return fmt.Errorf("auth: parse signing key feed: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, pemCert := range certs {
		key, errParse := parseCertPublicKey(pemCert)
		if errParse != nil {
			log.Warnf("skipping unparsable signing certificate %s: %v", kid, errParse)
			continue
		}
		keys[kid] = key
	}
	if len(keys) == 0 {
		return fmt.Errorf("auth: signing key feed contained no usable keys")
	}

	ttl := cacheMaxAge(resp.Header.Get("Cache-Control"))

	s.mu.Lock()
	s.keys = keys
	s.expiresAt = time.Now().Add(ttl)
	s.mu.Unlock()

	log.Debugf("refreshed %d signing keys, next refresh in %s", len(keys), ttl)
	return nil
}

func parseCertPublicKey(pemCert string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemCert))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate does not carry an RSA public key")
	}
	return key, nil
}

// cacheMaxAge extracts max-age from a Cache-Control header, falling back to
// the default key TTL.
func cacheMaxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "max-age=") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimPrefix(part, "max-age="))
		if err != nil || seconds < 0 {
			break
		}
		return time.Duration(seconds) * time.Second
	}
	return defaultKeyTTL
}

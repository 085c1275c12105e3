package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore persists entries as JSON files in a directory, mirroring the
// filesystem-backed persistence used for other gateway state. Keys are
// path-escaped so arbitrary key characters stay filesystem-safe.
type FileStore struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("kv filestore: directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("kv filestore: resolve directory: %w", err)
	}
	if err = os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("kv filestore: create directory: %w", err)
	}
	return &FileStore{baseDir: abs}, nil
}

func (s *FileStore) pathFor(key string) string {
	return filepath.Join(s.baseDir, url.PathEscape(key)+".json")
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv filestore: read %s: %w", key, err)
	}
	var env envelope
	if err = json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("kv filestore: decode %s: %w", key, err)
	}
	if env.expired(time.Now()) {
		return nil, false, nil
	}
	return env.Value, true, nil
}

// Put implements Store.
func (s *FileStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	env := envelope{Value: value, ExpiresAt: expiryFor(time.Now(), ttl)}
	data, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("kv filestore: encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(key)
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("kv filestore: write %s: %w", key, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("kv filestore: replace %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.pathFor(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("kv filestore: delete %s: %w", key, err)
	}
	return nil
}

// Keys implements Store.
func (s *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("kv filestore: list: %w", err)
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key, errUnescape := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if errUnescape != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

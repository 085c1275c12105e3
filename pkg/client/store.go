package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials is the locally persisted login state: the short-lived identity
// token presented to the gateway and the long-lived refresh credential used to
// mint a new one.
type Credentials struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
}

// CredentialStore persists credentials between invocations.
type CredentialStore interface {
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds *Credentials) error
}

// FileStore keeps credentials in a single JSON file with owner-only
// permissions. Writes go through a temp file and rename so a crash never
// leaves a half-written credential file.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements CredentialStore. A missing file is not an error; it reads
// as empty credentials.
func (s *FileStore) Load(_ context.Context) (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Credentials{}, nil
		}
		return nil, fmt.Errorf("client: read credentials: %w", err)
	}
	var creds Credentials
	if err = json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("client: decode credentials: %w", err)
	}
	return &creds, nil
}

// Save implements CredentialStore.
func (s *FileStore) Save(_ context.Context, creds *Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("client: encode credentials: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("client: create credentials dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("client: write credentials: %w", err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("client: replace credentials: %w", err)
	}
	return nil
}

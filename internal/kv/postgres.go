package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultKVTable = "kv_store"

// PostgresConfig captures configuration required to initialize a
// PostgreSQL-backed store.
type PostgresConfig struct {
	DSN   string
	Table string
}

// PostgresStore persists entries in a single PostgreSQL table, giving the
// gateway durable state that survives restarts and can be shared between
// replicas behind the same database.
type PostgresStore struct {
	db  *sql.DB
	cfg PostgresConfig
}

// NewPostgresStore establishes a connection to PostgreSQL and ensures the
// backing table exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("kv postgres: DSN is required")
	}
	if cfg.Table == "" {
		cfg.Table = defaultKVTable
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("kv postgres: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kv postgres: ping database: %w", err)
	}

	s := &PostgresStore{db: db, cfg: cfg}
	if err = s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content BYTEA NOT NULL,
			expires_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, quoteIdentifier(s.cfg.Table))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("kv postgres: create table: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := fmt.Sprintf(`SELECT content, expires_at FROM %s WHERE id = $1`, quoteIdentifier(s.cfg.Table))
	var value []byte
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv postgres: get %s: %w", key, err)
	}
	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		return nil, false, nil
	}
	return value, true, nil
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET content = $2, expires_at = $3, updated_at = NOW()
	`, quoteIdentifier(s.cfg.Table))
	var expiresAt any
	if t := expiryFor(time.Now(), ttl); t != nil {
		expiresAt = *t
	}
	if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("kv postgres: put %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, quoteIdentifier(s.cfg.Table))
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("kv postgres: delete %s: %w", key, err)
	}
	return nil
}

// Keys implements Store.
func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE id LIKE $1`, quoteIdentifier(s.cfg.Table))
	rows, err := s.db.QueryContext(ctx, query, escapeLikePrefix(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("kv postgres: list %s: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("kv postgres: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("kv postgres: iterate keys: %w", err)
	}
	return keys, nil
}

// Close releases the underlying database connection.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func escapeLikePrefix(prefix string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(prefix)
}

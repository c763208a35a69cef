package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteCache is a persistent key/value tier backed by an embedded SQLite file.
// Entries survive process restarts; expired rows are treated as absent and removed
// on read or by PurgeExpired.
type SQLiteCache struct {
	db         *sql.DB
	table      string
	defaultTTL time.Duration
	now        func() time.Time
}

// NewSQLiteCache opens (and creates if needed) the cache database.
func NewSQLiteCache(ctx context.Context, opts ...SQLiteOption) (*SQLiteCache, error) {
	cfg := &SQLiteConfig{
		Path:       filepath.Join("data", "cache.db"),
		Table:      "cache_entries",
		DefaultTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("sqlite cache: invalid table name %q", cfg.Table)
	}
	if cfg.Path == "" {
		return nil, errors.New("sqlite cache: path is empty")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	c := &SQLiteCache{db: db, table: cfg.Table, defaultTTL: cfg.DefaultTTL, now: time.Now}
	if err := c.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCache) initSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)`, c.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s (expires_at)`, c.table, c.table),
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite cache schema: %w", err)
		}
	}
	return nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("sqlite cache encode %s: %w", key, err)
	}
	if expiration <= 0 {
		expiration = c.defaultTTL
	}

	q := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`, c.table)
	if _, err := c.db.ExecContext(ctx, q, key, data, c.now().Add(expiration).UnixNano()); err != nil {
		return fmt.Errorf("sqlite cache set %s: %w", key, err)
	}
	return nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, expiresAt, err := c.row(ctx, key)
	if err != nil {
		return err
	}
	if c.now().UnixNano() >= expiresAt {
		_ = c.Delete(ctx, key)
		return ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (c *SQLiteCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	_, expiresAt, err := c.row(ctx, key)
	if err != nil {
		return 0, err
	}
	left := time.Duration(expiresAt - c.now().UnixNano())
	if left <= 0 {
		return 0, ErrCacheMiss
	}
	return left, nil
}

func (c *SQLiteCache) row(ctx context.Context, key string) ([]byte, int64, error) {
	var (
		data      []byte
		expiresAt int64
	)
	q := fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE key = ?`, c.table)
	err := c.db.QueryRowContext(ctx, q, key).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrCacheMiss
	}
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite cache get %s: %w", key, err)
	}
	return data, expiresAt, nil
}

func (c *SQLiteCache) Delete(ctx context.Context, keys ...string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, c.table)
	for _, key := range keys {
		if _, err := c.db.ExecContext(ctx, q, key); err != nil {
			return fmt.Errorf("sqlite cache delete %s: %w", key, err)
		}
	}
	return nil
}

// DeleteByPattern uses SQLite GLOB, which shares Redis' * and ? wildcards.
func (c *SQLiteCache) DeleteByPattern(ctx context.Context, pattern string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE key GLOB ?`, c.table)
	if _, err := c.db.ExecContext(ctx, q, pattern); err != nil {
		return fmt.Errorf("sqlite cache delete pattern %s: %w", pattern, err)
	}
	return nil
}

func (c *SQLiteCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	q := fmt.Sprintf(`SELECT 1 FROM %s WHERE key = ? AND expires_at > ?`, c.table)
	now := c.now().UnixNano()
	for _, key := range keys {
		var one int
		err := c.db.QueryRowContext(ctx, q, key, now).Scan(&one)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("sqlite cache exists %s: %w", key, err)
		}
	}
	return false, nil
}

// PurgeExpired deletes every expired row and returns how many were removed.
func (c *SQLiteCache) PurgeExpired(ctx context.Context) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= ?`, c.table)
	res, err := c.db.ExecContext(ctx, q, c.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite cache purge: %w", err)
	}
	return res.RowsAffected()
}

func (c *SQLiteCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

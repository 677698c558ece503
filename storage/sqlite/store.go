package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spdeepak/offlinecache/cache"
	"github.com/spdeepak/offlinecache/internal/sqlitemigrate"
	"github.com/spdeepak/offlinecache/storage/sqlite/migrations"
	"github.com/spdeepak/offlinecache/ttlcache"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for cached responses.
type Store struct {
	sqlDB *sql.DB
}

// Open opens and migrates an offline cache SQLite store.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Open returns a handle to the named namespace, creating it if missing.
func (s *Store) Open(ctx context.Context, name string) (cache.Namespace, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("namespace name is required")
	}
	// reads stay read-only once the namespace exists
	exists, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := ensureNamespace(ctx, s.sqlDB, name); err != nil {
			return nil, err
		}
	}
	return &namespace{sqlDB: s.sqlDB, name: name}, nil
}

// Has reports whether the namespace exists.
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM namespaces WHERE name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check namespace: %w", err)
	}
	return true, nil
}

// Delete drops a namespace and its entries in one transaction.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete namespace: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM response_entries WHERE namespace = ?`, name); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete namespace entries: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM namespaces WHERE name = ?`, name)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete namespace: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete namespace: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete namespace rows: %w", err)
	}
	return affected > 0, nil
}

// Names lists namespaces in creation order.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM namespaces ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate namespaces: %w", err)
	}
	return names, nil
}

// DurableTier returns the key/value tier for ttlcache stored in the same database.
func (s *Store) DurableTier() *DurableTier {
	return &DurableTier{sqlDB: s.sqlDB}
}

func (s *Store) ready() error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureNamespace(ctx context.Context, db execer, name string) error {
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO namespaces (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("ensure namespace: %w", err)
	}
	return nil
}

type namespace struct {
	sqlDB *sql.DB
	name  string
}

func (n *namespace) Name() string {
	return n.name
}

// Get loads a cached response by key.
func (n *namespace) Get(ctx context.Context, key string) (*cache.ResponseCacheEntry, bool, error) {
	row := n.sqlDB.QueryRowContext(ctx,
		`SELECT status_code, headers_json, body, created_at
		 FROM response_entries
		 WHERE namespace = ? AND cache_key = ?`,
		n.name, key,
	)

	var entry cache.ResponseCacheEntry
	var headersJSON []byte
	var createdAt int64
	if err := row.Scan(&entry.StatusCode, &headersJSON, &entry.Body, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get response entry: %w", err)
	}
	entry.Headers = make(http.Header)
	if err := json.Unmarshal(headersJSON, &entry.Headers); err != nil {
		return nil, false, fmt.Errorf("decode response headers: %w", err)
	}
	entry.CreatedAt = unixMillisToTime(createdAt)
	return &entry, true, nil
}

// Set upserts a cached response. Writing through a handle whose namespace
// was deleted recreates the namespace.
func (n *namespace) Set(ctx context.Context, key string, entry *cache.ResponseCacheEntry) error {
	tx, err := n.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put response entry: %w", err)
	}
	if err := n.put(ctx, tx, key, entry); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put response entry: %w", err)
	}
	return nil
}

// SetAll writes every entry in one transaction.
func (n *namespace) SetAll(ctx context.Context, entries map[string]*cache.ResponseCacheEntry) error {
	tx, err := n.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put response entries: %w", err)
	}
	for key, entry := range entries {
		if err := n.put(ctx, tx, key, entry); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put response entries: %w", err)
	}
	return nil
}

func (n *namespace) put(ctx context.Context, tx *sql.Tx, key string, entry *cache.ResponseCacheEntry) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("cache key is required")
	}
	if entry == nil {
		return fmt.Errorf("response entry is required")
	}
	headers := entry.Headers
	if headers == nil {
		headers = http.Header{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("encode response headers: %w", err)
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if err := ensureNamespace(ctx, tx, n.name); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO response_entries (namespace, cache_key, status_code, headers_json, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(namespace, cache_key) DO UPDATE SET
		    status_code = excluded.status_code,
		    headers_json = excluded.headers_json,
		    body = excluded.body,
		    created_at = excluded.created_at`,
		n.name, key, entry.StatusCode, headersJSON, body, timeToUnixMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("put response entry: %w", err)
	}
	return nil
}

// Delete removes a cached response by key.
func (n *namespace) Delete(ctx context.Context, key string) (bool, error) {
	result, err := n.sqlDB.ExecContext(ctx,
		`DELETE FROM response_entries WHERE namespace = ? AND cache_key = ?`, n.name, key)
	if err != nil {
		return false, fmt.Errorf("delete response entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete response entry rows: %w", err)
	}
	return affected > 0, nil
}

// Keys lists cached keys in lexical order.
func (n *namespace) Keys(ctx context.Context) ([]string, error) {
	rows, err := n.sqlDB.QueryContext(ctx,
		`SELECT cache_key FROM response_entries WHERE namespace = ? ORDER BY cache_key`, n.name)
	if err != nil {
		return nil, fmt.Errorf("list response keys: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan response key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate response keys: %w", err)
	}
	return keys, nil
}

// DurableTier is the ttlcache durable tier kept in the kv_entries table.
type DurableTier struct {
	sqlDB *sql.DB
}

func (d *DurableTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := d.sqlDB.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE storage_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get kv entry: %w", err)
	}
	return value, true, nil
}

func (d *DurableTier) Set(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("storage key is required")
	}
	_, err := d.sqlDB.ExecContext(ctx,
		`INSERT INTO kv_entries (storage_key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(storage_key) DO UPDATE SET
		    value = excluded.value,
		    updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put kv entry: %w", err)
	}
	return nil
}

func (d *DurableTier) Delete(ctx context.Context, key string) error {
	if _, err := d.sqlDB.ExecContext(ctx, `DELETE FROM kv_entries WHERE storage_key = ?`, key); err != nil {
		return fmt.Errorf("delete kv entry: %w", err)
	}
	return nil
}

// Clear removes every key that starts with prefix.
func (d *DurableTier) Clear(ctx context.Context, prefix string) error {
	if _, err := d.sqlDB.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE substr(storage_key, 1, ?) = ?`,
		utf8.RuneCountInString(prefix), prefix,
	); err != nil {
		return fmt.Errorf("clear kv entries: %w", err)
	}
	return nil
}

func timeToUnixMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func unixMillisToTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

var (
	_ cache.Store          = (*Store)(nil)
	_ ttlcache.DurableTier = (*DurableTier)(nil)
)

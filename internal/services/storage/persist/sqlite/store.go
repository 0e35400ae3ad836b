package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/tierstore/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/tierstore/internal/services/storage/persist"
	"github.com/louisbranch/tierstore/internal/services/storage/persist/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for persistent tier items.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens and migrates a SQLite store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, now: time.Now}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Scope returns the Backend for one named scope.
func (s *Store) Scope(name string) *Backend {
	return &Backend{store: s, scope: strings.TrimSpace(name)}
}

// Scopes lists every scope holding at least one item.
func (s *Store) Scopes(ctx context.Context) ([]string, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT DISTINCT scope FROM items ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, scope)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scopes: %w", err)
	}
	return scopes, nil
}

// Backend is a scoped view of a Store.
type Backend struct {
	store *Store
	scope string
}

func (b *Backend) check() error {
	if b == nil || b.store == nil || b.store.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if b.scope == "" {
		return fmt.Errorf("storage scope is required")
	}
	return nil
}

// Scope returns the scope name.
func (b *Backend) Scope() string {
	return b.scope
}

// GetItem loads the stored string for key.
func (b *Backend) GetItem(ctx context.Context, key string) (string, bool, error) {
	if err := b.check(); err != nil {
		return "", false, err
	}
	row := b.store.sqlDB.QueryRowContext(
		ctx,
		`SELECT item_value FROM items WHERE scope = ? AND item_key = ?`,
		b.scope,
		key,
	)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get item: %w", err)
	}
	return value, true, nil
}

// SetItem upserts the stored string for key.
func (b *Backend) SetItem(ctx context.Context, key, value string) error {
	if err := b.check(); err != nil {
		return err
	}
	_, err := b.store.sqlDB.ExecContext(
		ctx,
		`INSERT INTO items (scope, item_key, item_value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(scope, item_key) DO UPDATE SET
		   item_value = excluded.item_value,
		   updated_at = excluded.updated_at`,
		b.scope,
		key,
		value,
		b.store.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set item: %w", err)
	}
	return nil
}

// RemoveItem deletes key.
func (b *Backend) RemoveItem(ctx context.Context, key string) error {
	if err := b.check(); err != nil {
		return err
	}
	if _, err := b.store.sqlDB.ExecContext(
		ctx,
		`DELETE FROM items WHERE scope = ? AND item_key = ?`,
		b.scope,
		key,
	); err != nil {
		return fmt.Errorf("remove item: %w", err)
	}
	return nil
}

// Clear deletes every item in the scope.
func (b *Backend) Clear(ctx context.Context) error {
	if err := b.check(); err != nil {
		return err
	}
	if _, err := b.store.sqlDB.ExecContext(ctx, `DELETE FROM items WHERE scope = ?`, b.scope); err != nil {
		return fmt.Errorf("clear scope: %w", err)
	}
	return nil
}

// Keys lists the keys in the scope in key order.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	rows, err := b.store.sqlDB.QueryContext(
		ctx,
		`SELECT item_key FROM items WHERE scope = ? ORDER BY item_key`,
		b.scope,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

var (
	_ persist.Backend    = (*Backend)(nil)
	_ persist.Enumerator = (*Backend)(nil)
)

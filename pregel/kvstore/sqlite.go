package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the key-value Store to a single SQLite file, for
// deployments that want Store contents to survive a process restart without
// standing up a separate database service.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed Store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS pregel_store (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		rowid_order INTEGER,
		PRIMARY KEY (namespace, key)
	)`); err != nil {
		return nil, fmt.Errorf("kvstore: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Put(ctx context.Context, namespace []string, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore: encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO pregel_store (namespace, key, value, rowid_order)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(rowid_order), 0) + 1 FROM pregel_store))
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`,
		namespaceKey(namespace), key, string(data))
	if err != nil {
		return fmt.Errorf("kvstore: put: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, namespace []string, key string) (any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM pregel_store WHERE namespace = ? AND key = ?`,
		namespaceKey(namespace), key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: get: %w", err)
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("kvstore: decode: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) Search(ctx context.Context, namespacePrefix []string, opts SearchOptions) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT namespace, key, value FROM pregel_store
		WHERE namespace LIKE ? ESCAPE '\' ORDER BY rowid_order ASC`,
		likePrefix(namespacePrefix))
	if err != nil {
		return nil, fmt.Errorf("kvstore: search: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var nsKey, key, raw string
		if err := rows.Scan(&nsKey, &key, &raw); err != nil {
			return nil, err
		}
		ns := splitNamespaceKey(nsKey)
		if !hasPrefix(ns, namespacePrefix) {
			continue
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, err
		}
		if !matchesFilter(value, opts.Filter) {
			continue
		}
		out = append(out, Item{Namespace: ns, Key: key, Value: value})
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, rows.Err()
}

// likePrefix builds a LIKE pattern matching any namespace key beginning
// with prefix's joined segments, escaping SQL wildcard characters that may
// appear in a namespace segment.
func likePrefix(prefix []string) string {
	escaped := make([]byte, 0, 32)
	for _, ch := range []byte(namespaceKey(prefix)) {
		if ch == '%' || ch == '_' || ch == '\\' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, ch)
	}
	return string(escaped) + "%"
}

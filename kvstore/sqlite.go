// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists values in the _overbox_kv table of a SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
	ownsDB    bool
	writeMu   sync.Mutex // serialize writes to avoid SQLITE_BUSY under WAL
}

// Open opens (or creates) the SQLite database at path and returns a store
// scoped to namespace. The returned store owns the database handle.
func Open(path, namespace string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect %s: %v", ErrStorageUnavailable, path, err)
	}
	// SQLite supports a single writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s, err := New(db, namespace)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// New creates a store on an existing database handle. The caller keeps
// ownership of db; Close on the returned store does not close it.
func New(db *sql.DB, namespace string) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil database", ErrStorageUnavailable)
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := initializeDatabase(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, namespace: namespace}, nil
}

// initializeDatabase applies pragmas and creates the key-value table.
func initializeDatabase(db *sql.DB) error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA synchronous=NORMAL`,
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, pragma, err)
		}
	}

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS _overbox_kv (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BLOB NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		PRIMARY KEY (namespace, key)
	)`)
	if err != nil {
		return fmt.Errorf("%w: create kv table: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Namespace() string { return s.namespace }

// DB returns the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM _overbox_kv WHERE namespace = ? AND key = ?`,
		s.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %q: %v", ErrStorageUnavailable, key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _overbox_kv (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, s.namespace, key, value)
	if err != nil {
		return fmt.Errorf("%w: set %q: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM _overbox_kv WHERE namespace = ? AND key = ?`, s.namespace, key)
	if err != nil {
		return fmt.Errorf("%w: delete %q: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM _overbox_kv WHERE namespace = ?`, s.namespace)
	if err != nil {
		return fmt.Errorf("%w: clear namespace %q: %v", ErrStorageUnavailable, s.namespace, err)
	}
	return nil
}

// Close closes the database if the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.ownsDB || s.db == nil {
		return nil
	}
	return s.db.Close()
}

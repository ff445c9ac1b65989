// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gamestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mobiletoly/go-overbox/remote"
)

// PostgresRepository stores records as JSONB rows.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Repository = (*PostgresRepository)(nil)

// OpenPostgres connects to databaseURL and creates the records table if needed.
func OpenPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo, err := NewPostgresRepository(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// NewPostgresRepository uses an existing pool. Close closes the pool.
func NewPostgresRepository(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PostgresRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeSchema(ctx, pool); err != nil {
		return nil, err
	}
	logger.Info("postgres repository ready")
	return &PostgresRepository{pool: pool, logger: logger}, nil
}

func initializeSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		createRecordsSQL :=
			/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS overbox_records (
	owner      TEXT NOT NULL,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	seq        BIGSERIAL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner, collection, id)
)`
		if _, err := tx.Exec(ctx, createRecordsSQL); err != nil {
			return fmt.Errorf("failed to create records table: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`CREATE INDEX IF NOT EXISTS overbox_records_list_idx ON overbox_records (owner, collection, seq)`); err != nil {
			return fmt.Errorf("failed to create records index: %w", err)
		}
		return nil
	})
}

func (p *PostgresRepository) List(ctx context.Context, owner, collection string) ([]remote.Record, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, data FROM overbox_records WHERE owner = $1 AND collection = $2 ORDER BY seq`,
		owner, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	out := []remote.Record{}
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec := remote.Record{}
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
		}
		rec[remote.FieldID] = id
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return out, nil
}

func (p *PostgresRepository) Create(ctx context.Context, owner, collection string, rec remote.Record) (string, error) {
	data, err := json.Marshal(rec.WirePayload())
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	id := uuid.NewString()
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO overbox_records (owner, collection, id, data) VALUES ($1, $2, $3, $4::jsonb)`,
		owner, collection, id, data); err != nil {
		return "", fmt.Errorf("failed to insert record: %w", err)
	}
	return id, nil
}

func (p *PostgresRepository) Update(ctx context.Context, owner, collection, id string, patch remote.Record) error {
	data, err := json.Marshal(patch.WirePayload())
	if err != nil {
		return fmt.Errorf("failed to encode patch: %w", err)
	}
	// jsonb || jsonb overwrites top-level keys only.
	tag, err := p.pool.Exec(ctx,
		`UPDATE overbox_records SET data = data || $4::jsonb, updated_at = now()
		 WHERE owner = $1 AND collection = $2 AND id = $3`,
		owner, collection, id, data)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresRepository) Delete(ctx context.Context, owner, collection, id string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM overbox_records WHERE owner = $1 AND collection = $2 AND id = $3`,
		owner, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the connection pool.
func (p *PostgresRepository) Close() {
	p.pool.Close()
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// KVRepository stores key/value entries in the kv_entries table.
type KVRepository struct {
	db *sql.DB
}

func NewKVRepository(db *sql.DB) *KVRepository {
	return &KVRepository{db: db}
}

func (r *KVRepository) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	const query = `SELECT value FROM kv_entries WHERE namespace = ? AND entry_key = ?`
	row := r.db.QueryRowContext(ctx, query, namespace, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan kv entry: %w", err)
	}
	return []byte(value), nil
}

func (r *KVRepository) Set(ctx context.Context, namespace, key string, value []byte) error {
	const query = `
INSERT INTO kv_entries (namespace, entry_key, value)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, namespace, key, string(value)); err != nil {
		return fmt.Errorf("upsert kv entry: %w", err)
	}
	return nil
}

func (r *KVRepository) Delete(ctx context.Context, namespace, key string) error {
	const query = `DELETE FROM kv_entries WHERE namespace = ? AND entry_key = ?`
	if _, err := r.db.ExecContext(ctx, query, namespace, key); err != nil {
		return fmt.Errorf("delete kv entry: %w", err)
	}
	return nil
}

// Ping checks the underlying connection.
func (r *KVRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresKeys persists idempotency keys in the idempotency_keys table.
type PostgresKeys struct {
	pool *pgxpool.Pool
}

func NewPostgresKeys(pool *pgxpool.Pool) *PostgresKeys {
	return &PostgresKeys{pool: pool}
}

const keyColumns = `idempotency_key, request_hash, method, path, in_progress, response_status, response_body, content_type, created_at`

func scanRow(r pgx.Row) (*Row, error) {
	var row Row
	if err := r.Scan(&row.Key, &row.RequestHash, &row.Method, &row.Path,
		&row.InProgress, &row.Status, &row.Body, &row.ContentType, &row.CreatedAt); err != nil {
		return nil, err
	}
	return &row, nil
}

func (k *PostgresKeys) Get(ctx context.Context, key string) (*Row, error) {
	row, err := scanRow(k.pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM idempotency_keys WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return row, nil
}

// Reserve inserts the key, yielding to any existing row. ON CONFLICT DO
// NOTHING makes concurrent reservations race-free.
func (k *PostgresKeys) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	tag, err := k.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, response_status, response_body, content_type, created_at)
		VALUES ($1, $2, $3, $4, TRUE, 0, ''::bytea, '', NOW())
		ON CONFLICT (idempotency_key) DO NOTHING`,
		key, requestHash, method, path)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (k *PostgresKeys) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Row, error) {
	row, err := scanRow(k.pool.QueryRow(ctx, `
		UPDATE idempotency_keys
		SET in_progress = FALSE, response_status = $1, response_body = $2, content_type = $3
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING `+keyColumns,
		status, body, contentType, key, requestHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	return row, nil
}

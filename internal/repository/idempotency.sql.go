package repository

import (
	"context"
)

const idempotencyColumns = `idempotency_key, request_hash, method, path, response_status,
	response_body, content_type, in_progress, created_at`

func scanIdempotencyKey(row rowScanner) (IdempotencyKey, error) {
	var k IdempotencyKey
	err := row.Scan(
		&k.IdempotencyKey,
		&k.RequestHash,
		&k.Method,
		&k.Path,
		&k.ResponseStatus,
		&k.ResponseBody,
		&k.ContentType,
		&k.InProgress,
		&k.CreatedAt,
	)
	return k, err
}

const getIdempotencyKey = `SELECT ` + idempotencyColumns + ` FROM idempotency_keys WHERE idempotency_key = $1`

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	k, err := scanIdempotencyKey(q.db.QueryRow(ctx, getIdempotencyKey, key))
	return k, translateError(err)
}

const reserveIdempotencyKey = `INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (idempotency_key) DO NOTHING`

// ReserveIdempotencyKey reports false when the key is already taken.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error) {
	tag, err := q.db.Exec(ctx, reserveIdempotencyKey, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path)
	if err != nil {
		return false, translateError(err)
	}
	return tag.RowsAffected() == 1, nil
}

const finalizeIdempotencyKey = `UPDATE idempotency_keys
SET response_status = $3,
    response_body = $4,
    content_type = $5,
    in_progress = FALSE
WHERE idempotency_key = $1 AND request_hash = $2
RETURNING ` + idempotencyColumns

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	k, err := scanIdempotencyKey(q.db.QueryRow(ctx, finalizeIdempotencyKey,
		arg.IdempotencyKey,
		arg.RequestHash,
		arg.ResponseStatus,
		arg.ResponseBody,
		arg.ContentType,
	))
	return k, translateError(err)
}

const releaseIdempotencyKey = `DELETE FROM idempotency_keys
WHERE idempotency_key = $1 AND request_hash = $2 AND in_progress`

// ReleaseIdempotencyKey drops an unfinished reservation so the key can be retried.
func (q *Queries) ReleaseIdempotencyKey(ctx context.Context, key, requestHash string) error {
	_, err := q.db.Exec(ctx, releaseIdempotencyKey, key, requestHash)
	return translateError(err)
}

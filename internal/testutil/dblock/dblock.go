// Package dblock serializes integration tests that share one Postgres database.
package dblock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// lockKey is an arbitrary advisory lock id reserved for the test suite.
const lockKey int64 = 0x5e11e41ed9e4

// Acquire blocks until this process holds the suite-wide advisory lock on a
// dedicated connection. The returned release unlocks it and returns the
// connection to the pool.
func Acquire(ctx context.Context, pool *pgxpool.Pool) (func(), error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockKey); err != nil {
		conn.Release()
		return nil, fmt.Errorf("take advisory lock: %w", err)
	}
	return func() {
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockKey)
		conn.Release()
	}, nil
}

package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	redisKeyPrefix      = "seller-ledger:idempotency:"
	defaultPollInterval = 50 * time.Millisecond

	servedByStore = "store"
	servedByRedis = "redis"
)

// Record is a completed response stored under an idempotency key.
type Record struct {
	Key         string `json:"key"`
	RequestHash string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
	ServedBy    string `json:"-"`
}

// KeySource is the durable record of reserved and completed keys.
type KeySource interface {
	Queries() repository.Querier
}

// Store keeps completed responses in the database and caches them in Redis.
// A nil redis client disables the cache.
type Store struct {
	redis        redis.Cmdable
	db           KeySource
	ttl          time.Duration
	pollInterval time.Duration
}

func NewStore(redis redis.Cmdable, db KeySource, ttl time.Duration) *Store {
	return &Store{redis: redis, db: db, ttl: ttl, pollInterval: defaultPollInterval}
}

// Lookup returns the stored response for key. A key reused with a different
// request body is ErrHashMismatch; a reservation still being served is ErrInProgress.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if rec, ok := s.fromCache(ctx, key); ok {
		if rec.RequestHash != requestHash {
			return nil, ErrHashMismatch
		}
		return rec, nil
	}

	row, err := s.db.Queries().GetIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if row.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}

	rec := recordFromRow(row)
	s.cache(ctx, rec)
	return &rec, nil
}

// Reserve claims key for the caller. It reports false when another request
// already holds or completed it.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	reserved, err := s.db.Queries().ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
	})
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return reserved, nil
}

// Finalize stores the response for a reserved key so later retries replay it.
func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	row, err := s.db.Queries().FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		ResponseStatus: int32(status),
		ResponseBody:   body,
		ContentType:    contentType,
		IdempotencyKey: key,
		RequestHash:    requestHash,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}

	rec := recordFromRow(row)
	s.cache(ctx, rec)
	return &rec, nil
}

// Release drops an unfinished reservation, letting the client retry with the
// same key after a server-side failure.
func (s *Store) Release(ctx context.Context, key, requestHash string) error {
	if err := s.db.Queries().ReleaseIdempotencyKey(ctx, key, requestHash); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// WaitForCompletion polls until a concurrent request holding the key finishes.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if !errors.Is(err, ErrInProgress) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func recordFromRow(row repository.IdempotencyKey) Record {
	return Record{
		Key:         row.IdempotencyKey,
		RequestHash: row.RequestHash,
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		ServedBy:    servedByStore,
	}
}

func (s *Store) fromCache(ctx context.Context, key string) (*Record, bool) {
	if s.redis == nil {
		return nil, false
	}
	val, err := s.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		zap.L().Warn("discarding corrupt idempotency cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	rec.ServedBy = servedByRedis
	return &rec, true
}

func (s *Store) cache(ctx context.Context, rec Record) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKeyPrefix+rec.Key, payload, s.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.String("key", rec.Key), zap.Error(err))
	}
}

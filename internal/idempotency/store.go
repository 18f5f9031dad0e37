// Package idempotency stores the outcome of mutating HTTP requests keyed by
// the caller-supplied Idempotency-Key header. A replay with the same key and
// request hash is served the recorded response; the same key with a different
// hash is rejected.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const redisKeyPrefix = "idempotency"

// Record is a finalized idempotent response.
type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Row is the persisted state of one idempotency key, possibly still in
// progress.
type Row struct {
	Key         string
	RequestHash string
	Method      string
	Path        string
	InProgress  bool
	Status      int
	Body        []byte
	ContentType string
	CreatedAt   time.Time
}

// Keys is the durable backend behind the redis cache. Reserve must be
// atomic: for a given key exactly one caller gets true.
type Keys interface {
	Get(ctx context.Context, key string) (*Row, error)
	Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error)
	Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Row, error)
}

// Store layers a redis response cache over the durable Keys backend.
type Store struct {
	redis redis.Cmdable
	keys  Keys
	ttl   time.Duration
}

func NewStore(redis redis.Cmdable, keys Keys, ttl time.Duration) *Store {
	return &Store{redis: redis, keys: keys, ttl: ttl}
}

type cacheEnvelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

// Lookup returns the recorded response for key, checking redis first. It
// returns ErrHashMismatch when the key was used with a different request
// body and ErrInProgress while the first request is still executing.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if s.redis != nil {
		val, err := s.redis.Get(ctx, redisKey(key)).Result()
		if err == nil {
			var env cacheEnvelope
			if json.Unmarshal([]byte(val), &env) == nil {
				if env.Hash != requestHash {
					return nil, ErrHashMismatch
				}
				return &Record{
					Key:         env.Key,
					RequestHash: env.Hash,
					Status:      env.Status,
					Body:        env.Body,
					ContentType: env.ContentType,
					ServedBy:    "redis",
				}, nil
			}
		} else if err != redis.Nil {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
	}

	row, err := s.keys.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if row.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}

	rec := Record{
		Key:         row.Key,
		RequestHash: row.RequestHash,
		Status:      row.Status,
		Body:        row.Body,
		ContentType: row.ContentType,
		ServedBy:    "store",
	}
	s.cache(ctx, rec)
	return &rec, nil
}

// Reserve claims the key for the current request. It returns false when
// another request already holds or finalized it.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	ok, err := s.keys.Reserve(ctx, key, requestHash, method, path)
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

// Finalize records the response for a reserved key and populates the cache.
func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	row, err := s.keys.Finalize(ctx, key, requestHash, status, body, contentType)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		Key:         row.Key,
		RequestHash: row.RequestHash,
		Status:      row.Status,
		Body:        row.Body,
		ContentType: row.ContentType,
		ServedBy:    "store",
	}
	s.cache(ctx, *rec)
	return rec, nil
}

// WaitForCompletion polls until the in-progress holder of key finalizes it,
// or ctx expires.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrInProgress) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				continue
			}
		}
		return nil, err
	}
}

func (s *Store) cache(ctx context.Context, rec Record) {
	if s.redis == nil {
		return
	}
	env := cacheEnvelope{
		Key:         rec.Key,
		Hash:        rec.RequestHash,
		Status:      rec.Status,
		Body:        rec.Body,
		ContentType: rec.ContentType,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKey(rec.Key), payload, s.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, key)
}

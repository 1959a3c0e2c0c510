package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idemPending = "pending"
	idemPrefix  = "idem:checkout:"
)

// StoredResponse is a finished checkout replayed for a repeated
// Idempotency-Key.
type StoredResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyStore remembers checkout responses by caller key.
type IdempotencyStore interface {
	// Claim reserves key. When the key is taken it returns false and the
	// stored response, which is nil while the first attempt is in flight.
	Claim(ctx context.Context, key string) (bool, *StoredResponse, error)
	Save(ctx context.Context, key string, resp StoredResponse) error
	Release(ctx context.Context, key string) error
}

type RedisIdempotencyStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client redis.UniversalClient, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (s *RedisIdempotencyStore) Claim(ctx context.Context, key string) (bool, *StoredResponse, error) {
	ok, err := s.client.SetNX(ctx, idemPrefix+key, idemPending, s.ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return true, nil, nil
	}
	val, err := s.client.Get(ctx, idemPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// Released between SETNX and GET; let the caller retry.
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("read idempotency key: %w", err)
	}
	if val == idemPending {
		return false, nil, nil
	}
	var stored StoredResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return false, nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return false, &stored, nil
}

func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, resp StoredResponse) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, idemPrefix+key, b, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, idemPrefix+key).Err()
}

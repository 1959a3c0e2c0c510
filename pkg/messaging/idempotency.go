package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultSeenRetention bounds how long an applied correlation id is remembered.
	DefaultSeenRetention = 7 * 24 * time.Hour
	// DefaultClaimTTL bounds how long an in-flight claim survives a crashed worker.
	DefaultClaimTTL = 5 * time.Minute
)

// SeenStore remembers which (queue, correlationId) pairs have been applied.
type SeenStore interface {
	// Claim reserves key for the caller. It returns false when key is already
	// applied or currently claimed by another worker.
	Claim(ctx context.Context, key string) (bool, error)
	// MarkDone records key as applied for the retention window.
	MarkDone(ctx context.Context, key string) error
	// Release drops a claim so a redelivery can try again.
	Release(ctx context.Context, key string) error
}

// Idempotent wraps h so a correlation id already applied on queue is
// acknowledged without running h again.
func Idempotent(store SeenStore, queue string, h Handler, logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return HandlerFunc(func(ctx context.Context, env Envelope) error {
		if env.CorrelationID == "" {
			return Permanent(ErrMissingCorrelationID)
		}
		key := queue + ":" + env.CorrelationID

		claimed, err := store.Claim(ctx, key)
		if err != nil {
			return fmt.Errorf("claim %s: %w", key, err)
		}
		if !claimed {
			logger.Info("Duplicate delivery; skipping",
				zap.String("queue", queue),
				zap.String("routing_key", env.RoutingKey),
				zap.String("correlation_id", env.CorrelationID),
			)
			return nil
		}

		if err := h.Handle(ctx, env); err != nil {
			if relErr := store.Release(context.WithoutCancel(ctx), key); relErr != nil {
				logger.Warn("Failed to release claim", zap.String("key", key), zap.Error(relErr))
			}
			return err
		}

		if err := store.MarkDone(context.WithoutCancel(ctx), key); err != nil {
			logger.Warn("Failed to mark correlation id done", zap.String("key", key), zap.Error(err))
		}
		return nil
	})
}

// RedisSeenStore keeps the seen set in Redis: SETNX for the claim, then a
// longer-lived "done" marker.
type RedisSeenStore struct {
	client    redis.Cmdable
	prefix    string
	claimTTL  time.Duration
	retention time.Duration
}

func NewRedisSeenStore(client redis.Cmdable, retention time.Duration) *RedisSeenStore {
	if retention <= 0 {
		retention = DefaultSeenRetention
	}
	return &RedisSeenStore{client: client, prefix: "seen:", claimTTL: DefaultClaimTTL, retention: retention}
}

func (s *RedisSeenStore) Claim(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, "claimed", s.claimTTL).Result()
}

func (s *RedisSeenStore) MarkDone(ctx context.Context, key string) error {
	return s.client.Set(ctx, s.prefix+key, "done", s.retention).Err()
}

func (s *RedisSeenStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Seen reports whether key has been applied.
func (s *RedisSeenStore) Seen(ctx context.Context, key string) (bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "done", nil
}

// MemorySeenStore is a process-local SeenStore for tests and single-process runs.
type MemorySeenStore struct {
	mu        sync.Mutex
	entries   map[string]seenEntry
	retention time.Duration
	now       func() time.Time
}

type seenEntry struct {
	done    bool
	expires time.Time
}

func NewMemorySeenStore(retention time.Duration) *MemorySeenStore {
	if retention <= 0 {
		retention = DefaultSeenRetention
	}
	return &MemorySeenStore{entries: make(map[string]seenEntry), retention: retention, now: time.Now}
}

func (s *MemorySeenStore) Claim(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	s.entries[key] = seenEntry{expires: now.Add(DefaultClaimTTL)}
	return true, nil
}

func (s *MemorySeenStore) MarkDone(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = seenEntry{done: true, expires: s.now().Add(s.retention)}
	return nil
}

func (s *MemorySeenStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

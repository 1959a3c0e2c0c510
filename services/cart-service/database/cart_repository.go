package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yashrajoria/marketplace/services/cart-service/models"
)

// ErrVersionMismatch means the cart changed since the caller read it.
var ErrVersionMismatch = errors.New("cart version mismatch")

const maxTxRetries = 5

type CartRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCartRepository(client redis.UniversalClient, ttl time.Duration) *CartRepository {
	return &CartRepository{
		client: client,
		ttl:    ttl,
	}
}

func (r *CartRepository) getKey(userID string) string {
	return fmt.Sprintf("cart:user:%s", userID)
}

// GetCart returns the user's cart, or an empty one.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	return r.read(ctx, r.client, userID)
}

func (r *CartRepository) read(ctx context.Context, c redis.Cmdable, userID string) (*models.Cart, error) {
	data, err := c.Get(ctx, r.getKey(userID)).Result()
	if err == redis.Nil {
		return &models.Cart{UserID: userID, Items: []models.CartItem{}}, nil
	}
	if err != nil {
		return nil, err
	}

	var cart models.Cart
	if err := json.Unmarshal([]byte(data), &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// Update applies fn to the cart under an optimistic WATCH and saves the
// result with the next version. Concurrent writers are retried.
func (r *CartRepository) Update(ctx context.Context, userID string, fn func(*models.Cart) error) (*models.Cart, error) {
	key := r.getKey(userID)
	var saved *models.Cart

	txf := func(tx *redis.Tx) error {
		cart, err := r.read(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(cart); err != nil {
			return err
		}
		cart.Version++
		cart.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(cart)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		if err == nil {
			saved = cart
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("cart %s: too much contention", userID)
}

// DeleteCart removes the cart. With version > 0 the cart is removed only if
// it is still at that version, so items added after a snapshot survive.
func (r *CartRepository) DeleteCart(ctx context.Context, userID string, version int64) error {
	key := r.getKey(userID)
	if version <= 0 {
		return r.client.Del(ctx, key).Err()
	}

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cart, err := r.read(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cart.Version == 0 {
			return nil
		}
		if cart.Version != version {
			return ErrVersionMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionMismatch
	}
	return err
}

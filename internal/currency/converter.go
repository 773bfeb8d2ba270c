package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/sgal-dev/sgal/internal/shared"
)

// Converter resolves currency records and converts foreign amounts into the
// local currency. Lookups go through a Redis cache; concurrent misses for
// the same currency collapse into one repository read.
type Converter struct {
	repo  Repository
	redis *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

// NewConverter constructs a Converter.
func NewConverter(repo Repository, rdb *redis.Client, ttl time.Duration) *Converter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Converter{repo: repo, redis: rdb, ttl: ttl}
}

// Resolve returns the currency record for the given id.
func (c *Converter) Resolve(ctx context.Context, id int64) (Currency, error) {
	key := fmt.Sprintf("currency:%d", id)
	if c.redis != nil {
		raw, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var cur Currency
			if json.Unmarshal(raw, &cur) == nil {
				return cur, nil
			}
		} else if !errors.Is(err, redis.Nil) && ctx.Err() != nil {
			return Currency{}, ctx.Err()
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		cur, err := c.repo.Get(ctx, id)
		if err != nil {
			return Currency{}, err
		}
		if c.redis != nil {
			if raw, err := json.Marshal(cur); err == nil {
				_ = c.redis.Set(ctx, key, raw, c.ttl).Err()
			}
		}
		return cur, nil
	})
	if err != nil {
		return Currency{}, err
	}
	return v.(Currency), nil
}

// ToLocal converts an amount expressed in the given currency into the local
// currency using the currency's current rate. The returned rate is the one
// applied, so callers can snapshot it.
func (c *Converter) ToLocal(ctx context.Context, currencyID int64, amount float64) (float64, float64, error) {
	cur, err := c.Resolve(ctx, currencyID)
	if err != nil {
		return 0, 0, err
	}
	if cur.RateToLocal <= 0 {
		return 0, 0, fmt.Errorf("%w: currency %s has no exchange rate", shared.ErrValidation, cur.Code)
	}
	return amount * cur.RateToLocal, cur.RateToLocal, nil
}

// Invalidate drops the cached record after reference-data edits.
func (c *Converter) Invalidate(ctx context.Context, id int64) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, fmt.Sprintf("currency:%d", id)).Err()
}

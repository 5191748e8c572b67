package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ikasa/internal/session"
)

// RedisPersister keeps session records as plain redis strings under their
// namespace key, without expiry.
type RedisPersister struct {
	redis *redis.Client
}

var _ session.Persister = (*RedisPersister)(nil)

func NewRedisPersister(rdb *redis.Client) *RedisPersister {
	return &RedisPersister{redis: rdb}
}

func (p *RedisPersister) Load(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get session: %w", err)
	}
	return b, true, nil
}

func (p *RedisPersister) Save(ctx context.Context, key string, payload []byte) error {
	if err := p.redis.Set(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (p *RedisPersister) Delete(ctx context.Context, key string) error {
	if err := p.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

package transcript

import (
	"context"
	"fmt"

	"github.com/loqalabs/narrator/internal/config"
	"github.com/redis/go-redis/v9"
)

// Open returns the configured backend. A redis transcript starts empty.
func Open(ctx context.Context, cfg config.TranscriptConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.MaxTurns), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		store := NewRedisStore(client, cfg.RedisKey, cfg.MaxTurns)
		if err := store.Reset(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("reset transcript: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported transcript backend %q", cfg.Backend)
	}
}

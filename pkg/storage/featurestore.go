package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/halo/pkg/common/logger"
)

var ErrCacheMiss = errors.New("importance not cached")

// ImportanceCache keeps the precomputed feature-importance mapping in a
// Redis hash so serving can read it without touching the artifact disk.
type ImportanceCache struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

func NewImportanceCache(client redis.Cmdable, key string, ttl time.Duration) *ImportanceCache {
	return &ImportanceCache{client: client, key: key, ttl: ttl}
}

// Publish replaces the cached mapping atomically.
func (c *ImportanceCache) Publish(ctx context.Context, importance map[string]float64) error {
	fields := make(map[string]interface{}, len(importance))
	for name, v := range importance {
		fields[name] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, c.key, fields)
		}
		if c.ttl > 0 {
			pipe.Expire(ctx, c.key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publishing importance: %w", err)
	}
	logger.Log.WithFields(map[string]interface{}{
		"key":      c.key,
		"features": len(fields),
	}).Info("Feature importance cached")
	return nil
}

func (c *ImportanceCache) Get(ctx context.Context) (map[string]float64, error) {
	raw, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrCacheMiss
	}
	return decodeImportance(raw)
}

func decodeImportance(raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for name, value := range raw {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("importance for %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

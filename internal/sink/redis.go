package sink

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sensorsplit/sensorsplit/pkg/types"
)

// RedisConfig configures the Redis summary sink.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use
	Database int

	// Key holds the latest summary
	Key string

	// Channel receives each summary when non-empty
	Channel string

	// TTL is the time-to-live of Key (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address: address,
		Key:     "sensorsplit:metrics",
		TTL:     24 * time.Hour,
		Timeout: 5 * time.Second,
	}
}

// RedisSink stores the latest summary under a key and optionally publishes
// it on a channel.
type RedisSink struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("sink: redis key is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:             cfg.Address,
		Password:         cfg.Password,
		DB:               cfg.Database,
		ReadTimeout:      cfg.Timeout,
		WriteTimeout:     cfg.Timeout,
		DisableIndentity: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("sink: failed to connect to Redis: %w", err)
	}

	return &RedisSink{cfg: cfg, client: client}, nil
}

// Name returns "redis".
func (s *RedisSink) Name() string { return "redis" }

// Publish stores the summary and, when a channel is configured, publishes it.
func (s *RedisSink) Publish(ctx context.Context, summary types.RunSummary) error {
	data, err := Encode(summary)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.cfg.Key, data, s.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("sink: failed to store summary in Redis: %w", err)
	}
	if s.cfg.Channel != "" {
		if err := s.client.Publish(ctx, s.cfg.Channel, data).Err(); err != nil {
			return fmt.Errorf("sink: failed to publish summary: %w", err)
		}
	}
	return nil
}

// Latest reads the stored summary back.
func (s *RedisSink) Latest(ctx context.Context) (types.RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.cfg.Key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return types.RunSummary{}, fmt.Errorf("sink: no summary under %s", s.cfg.Key)
		}
		return types.RunSummary{}, fmt.Errorf("sink: failed to read summary: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// Package redis caches the latest published report in Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/JakeFAU/statuswatch/internal/publisher"
)

// Config captures the connection URL and key layout.
type Config struct {
	URL string
	Key string
	TTL time.Duration
}

type client interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Store writes the report body under one key, expiring it after TTL so a
// stalled poller never serves a stale report forever.
type Store struct {
	client client
	key    string
	ttl    time.Duration
}

// New parses cfg.URL, connects and verifies the server responds.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newWithClient(rdb, cfg)
}

func newWithClient(c client, cfg Config) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("redis ttl must be >= 0")
	}
	return &Store{client: c, key: cfg.Key, ttl: cfg.TTL}, nil
}

// Name identifies the sink.
func (s *Store) Name() string {
	return "redis"
}

// Publish overwrites the cached report.
func (s *Store) Publish(ctx context.Context, _ publisher.Report, body []byte) error {
	if err := s.client.Set(ctx, s.key, body, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Close closes the client connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

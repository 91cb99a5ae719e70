// Package redis keeps cache snapshots in Redis so several scraper
// processes share one durable slot.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jjjenkim/fis-results-scraper/internal/cache"
)

// DefaultKeyPrefix namespaces slot keys.
const DefaultKeyPrefix = "fisscraper:cache:"

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix is prepended to every slot key.
	KeyPrefix string
	// Expiration bounds how long an untouched slot survives. Zero keeps it forever.
	Expiration time.Duration
}

type client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Close() error
}

// SlotStore implements cache.Store on Redis strings.
type SlotStore struct {
	client     client
	prefix     string
	expiration time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*SlotStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis.addr is required")
	}
	c := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(c, cfg), nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(c client, cfg Config) *SlotStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &SlotStore{client: c, prefix: prefix, expiration: cfg.Expiration}
}

// Load implements cache.Store.
func (s *SlotStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cache.ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Save implements cache.Store.
func (s *SlotStore) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, data, s.expiration).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close closes the client.
func (s *SlotStore) Close() error {
	return s.client.Close()
}

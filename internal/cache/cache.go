// Package cache provides a TTL and size-bounded key/value cache with optional
// durable persistence of its full snapshot.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults match the dashboard cache.
const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxSize    = 500
	DefaultStorageKey = "fis-dashboard-cache"

	trimRatio      = 0.8
	persistTimeout = 5 * time.Second
)

// Config sizes the cache.
type Config struct {
	TTL        time.Duration
	MaxSize    int
	StorageKey string
}

// Clock supplies insertion and expiry times.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type options struct {
	clock  Clock
	store  Store
	logger *zap.Logger
}

// Option customizes a Cache.
type Option func(*options)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithStore enables persistence to a durable slot named by Config.StorageKey.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets the logger for persistence warnings.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

type entry[T any] struct {
	value    T
	inserted time.Time
	seq      uint64
}

// Cache is safe for concurrent use. GetOrSet does not coalesce concurrent
// misses for the same key; each caller may run the producer.
type Cache[T any] struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry[T]
	seq     uint64
	clock   Clock
	store   Store
	logger  *zap.Logger
}

// New builds a cache and, when a store is configured, loads the persisted
// snapshot. Load failures leave the cache empty.
func New[T any](cfg Config, opts ...Option) *Cache[T] {
	o := options{clock: systemClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultStorageKey
	}
	c := &Cache[T]{
		cfg:     cfg,
		entries: make(map[string]*entry[T]),
		clock:   o.clock,
		store:   o.store,
		logger:  o.logger,
	}
	c.load()
	return c
}

// Get returns the value when it is younger than the TTL. Expired entries are
// removed as a side effect.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleanupLocked() {
		c.persistLocked()
	}
	e, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set inserts or overwrites key with the current time.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.entries[key] = &entry[T]{value: value, inserted: c.clock.Now(), seq: c.seq}
	c.cleanupLocked()
	c.persistLocked()
}

// Delete removes key and reports whether it was present.
func (c *Cache[T]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.cleanupLocked()
	c.persistLocked()
	return true
}

// Clear drops every entry.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[T])
	c.persistLocked()
}

// Has reports whether Get would return a value.
func (c *Cache[T]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Keys lists live keys in insertion order. Expired entries are swept first.
func (c *Cache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleanupLocked() {
		c.persistLocked()
	}
	return c.orderedKeysLocked()
}

// Len reports the number of stored entries, expired or not.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// MaxSize returns the configured capacity.
func (c *Cache[T]) MaxSize() int {
	return c.cfg.MaxSize
}

// GetOrSet returns the cached value or stores and returns the producer's.
// Producer errors are returned and nothing is stored.
func (c *Cache[T]) GetOrSet(ctx context.Context, key string, produce func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := produce(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// Stats describes cache occupancy.
type Stats struct {
	TotalEntries   int     `json:"totalEntries"`
	ValidEntries   int     `json:"validEntries"`
	ExpiredEntries int     `json:"expiredEntries"`
	MaxSize        int     `json:"maxSize"`
	TTLSeconds     float64 `json:"ttlSeconds"`
	UsagePercent   float64 `json:"usagePercent"`
	StorageKey     string  `json:"storageKey"`
}

// Stats reports occupancy without sweeping expired entries. UsagePercent is
// not capped at 100.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	s := Stats{
		TotalEntries: len(c.entries),
		MaxSize:      c.cfg.MaxSize,
		TTLSeconds:   c.cfg.TTL.Seconds(),
		StorageKey:   c.cfg.StorageKey,
	}
	for _, e := range c.entries {
		if c.expired(e, now) {
			s.ExpiredEntries++
		} else {
			s.ValidEntries++
		}
	}
	s.UsagePercent = float64(s.TotalEntries) / float64(c.cfg.MaxSize) * 100
	return s
}

func (c *Cache[T]) expired(e *entry[T], now time.Time) bool {
	return now.Sub(e.inserted) >= c.cfg.TTL
}

// cleanupLocked drops expired entries, then trims to 80% of capacity keeping
// the newest when the cache is over capacity.
func (c *Cache[T]) cleanupLocked() bool {
	now := c.clock.Now()
	changed := false
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			changed = true
		}
	}
	if len(c.entries) <= c.cfg.MaxSize {
		return changed
	}
	keep := int(math.Floor(trimRatio * float64(c.cfg.MaxSize)))
	keys := c.orderedKeysLocked()
	for _, k := range keys[:len(keys)-keep] {
		delete(c.entries, k)
	}
	return true
}

func (c *Cache[T]) orderedKeysLocked() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if !a.inserted.Equal(b.inserted) {
			return a.inserted.Before(b.inserted)
		}
		if a.seq != b.seq {
			return a.seq < b.seq
		}
		return keys[i] < keys[j]
	})
	return keys
}

type persistedEntry[T any] struct {
	Value     T     `json:"value"`
	Timestamp int64 `json:"timestamp"`
}

func (c *Cache[T]) persistLocked() {
	if c.store == nil {
		return
	}
	snapshot := make(map[string]persistedEntry[T], len(c.entries))
	for k, e := range c.entries {
		snapshot[k] = persistedEntry[T]{Value: e.value, Timestamp: e.inserted.UnixMilli()}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Warn("encode cache snapshot", zap.String("storage_key", c.cfg.StorageKey), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.Save(ctx, c.cfg.StorageKey, data); err != nil {
		c.logger.Warn("persist cache snapshot", zap.String("storage_key", c.cfg.StorageKey), zap.Error(err))
	}
}

func (c *Cache[T]) load() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	data, err := c.store.Load(ctx, c.cfg.StorageKey)
	if err != nil {
		if !errors.Is(err, ErrSlotNotFound) {
			c.logger.Warn("load cache snapshot", zap.String("storage_key", c.cfg.StorageKey), zap.Error(err))
		}
		return
	}
	var snapshot map[string]persistedEntry[T]
	if err := json.Unmarshal(data, &snapshot); err != nil {
		c.logger.Warn("decode cache snapshot", zap.String("storage_key", c.cfg.StorageKey), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, pe := range snapshot {
		c.entries[k] = &entry[T]{value: pe.Value, inserted: time.UnixMilli(pe.Timestamp)}
	}
	for _, k := range c.orderedKeysLocked() {
		c.seq++
		c.entries[k].seq = c.seq
	}
	c.cleanupLocked()
}

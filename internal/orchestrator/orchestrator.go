// Package orchestrator runs keyed tasks with bounded parallelism and skips
// tasks whose result is still cached.
package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jjjenkim/fis-results-scraper/internal/cache"
)

// Defaults for Config.
const (
	DefaultMaxConcurrent = 5
	DefaultCacheTTL      = time.Hour
	DefaultCacheMaxSize  = 1000
	DefaultStorageKey    = "fis-orchestrator-cache"
)

// Config sizes the worker limit and the result cache.
type Config struct {
	MaxConcurrent int
	CacheTTL      time.Duration
	CacheMaxSize  int
	StorageKey    string
}

// Task is one unit of keyed work.
type Task[T any] struct {
	Key string
	Run func(ctx context.Context) (T, error)
}

// Outcome is the settled result of a task.
type Outcome[T any] struct {
	Key    string
	Value  T
	Err    error
	Cached bool
}

// Stats are cumulative for the lifetime of the Orchestrator.
type Stats struct {
	CacheHits         int64   `json:"cacheHits"`
	CacheMisses       int64   `json:"cacheMisses"`
	TotalTasks        int64   `json:"totalTasks"`
	CacheSize         int     `json:"cacheSize"`
	CacheUsagePercent float64 `json:"cacheUsagePercent"`
}

// Orchestrator owns its result cache. Only successful values are cached.
type Orchestrator[T any] struct {
	limit  int
	cache  *cache.Cache[T]
	hits   atomic.Int64
	misses atomic.Int64
	total  atomic.Int64
}

// New builds an Orchestrator. Cache options (clock, durable store, logger)
// are forwarded to the internal cache.
func New[T any](cfg Config, opts ...cache.Option) *Orchestrator[T] {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheMaxSize <= 0 {
		cfg.CacheMaxSize = DefaultCacheMaxSize
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultStorageKey
	}
	return &Orchestrator[T]{
		limit: cfg.MaxConcurrent,
		cache: cache.New[T](cache.Config{
			TTL:        cfg.CacheTTL,
			MaxSize:    cfg.CacheMaxSize,
			StorageKey: cfg.StorageKey,
		}, opts...),
	}
}

// Run executes tasks and returns their values in input order. The first task
// error cancels the context handed to the remaining tasks and is returned.
func (o *Orchestrator[T]) Run(ctx context.Context, tasks []Task[T]) ([]T, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.limit)
	values := make([]T, len(tasks))
	for i, task := range tasks {
		g.Go(func() error {
			out := o.runTask(gctx, task)
			values[i] = out.Value
			return out.Err
		})
	}
	if err := g.Wait(); err != nil {
		return values, err
	}
	return values, nil
}

// RunSettled executes every task and reports each outcome in input order.
func (o *Orchestrator[T]) RunSettled(ctx context.Context, tasks []Task[T]) []Outcome[T] {
	var g errgroup.Group
	g.SetLimit(o.limit)
	outcomes := make([]Outcome[T], len(tasks))
	for i, task := range tasks {
		g.Go(func() error {
			outcomes[i] = o.runTask(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator[T]) runTask(ctx context.Context, task Task[T]) Outcome[T] {
	o.total.Add(1)
	if v, ok := o.cache.Get(task.Key); ok {
		o.hits.Add(1)
		return Outcome[T]{Key: task.Key, Value: v, Cached: true}
	}
	o.misses.Add(1)
	if err := ctx.Err(); err != nil {
		return Outcome[T]{Key: task.Key, Err: err}
	}
	v, err := task.Run(ctx)
	if err != nil {
		return Outcome[T]{Key: task.Key, Err: err}
	}
	o.cache.Set(task.Key, v)
	return Outcome[T]{Key: task.Key, Value: v}
}

// Stats reports cumulative counters and current cache occupancy.
func (o *Orchestrator[T]) Stats() Stats {
	size := o.cache.Len()
	return Stats{
		CacheHits:         o.hits.Load(),
		CacheMisses:       o.misses.Load(),
		TotalTasks:        o.total.Load(),
		CacheSize:         size,
		CacheUsagePercent: float64(size) / float64(o.cache.MaxSize()) * 100,
	}
}

// ClearCache drops every cached result.
func (o *Orchestrator[T]) ClearCache() {
	o.cache.Clear()
}

// Cached returns the cached value for key.
func (o *Orchestrator[T]) Cached(key string) (T, bool) {
	return o.cache.Get(key)
}

// SetCached seeds the cache.
func (o *Orchestrator[T]) SetCached(key string, value T) {
	o.cache.Set(key, value)
}

// Forget removes one cached result so its task runs again.
func (o *Orchestrator[T]) Forget(key string) bool {
	return o.cache.Delete(key)
}

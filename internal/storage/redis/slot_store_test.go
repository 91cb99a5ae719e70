package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjjenkim/fis-results-scraper/internal/cache"
)

type fakeClient struct {
	data    map[string]string
	ttl     map[string]time.Duration
	failSet error
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	if f.failSet != nil {
		return goredis.NewStatusResult("", f.failSet)
	}
	f.data[key] = string(value.([]byte))
	f.ttl[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestSlotStoreRoundTrip(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	store := NewWithClient(fake, Config{Expiration: time.Hour})
	ctx := context.Background()

	_, err := store.Load(ctx, "fis-dashboard-cache")
	require.ErrorIs(t, err, cache.ErrSlotNotFound)

	require.NoError(t, store.Save(ctx, "fis-dashboard-cache", []byte(`{"k":1}`)))
	assert.Equal(t, `{"k":1}`, fake.data["fisscraper:cache:fis-dashboard-cache"])
	assert.Equal(t, time.Hour, fake.ttl["fisscraper:cache:fis-dashboard-cache"])

	data, err := store.Load(ctx, "fis-dashboard-cache")
	require.NoError(t, err)
	assert.Equal(t, `{"k":1}`, string(data))

	require.NoError(t, store.Close())
	assert.True(t, fake.closed)
}

func TestSlotStoreBacksCache(t *testing.T) {
	t.Parallel()

	store := NewWithClient(newFakeClient(), Config{KeyPrefix: "test:"})
	cfg := cache.Config{TTL: time.Hour, MaxSize: 10, StorageKey: "shared"}

	first := cache.New[int](cfg, cache.WithStore(store))
	first.Set("athlete-1", 42)

	second := cache.New[int](cfg, cache.WithStore(store))
	v, ok := second.Get("athlete-1")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestSlotStoreErrors(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	fake.failSet = errors.New("READONLY")
	store := NewWithClient(fake, Config{})
	assert.ErrorContains(t, store.Save(context.Background(), "k", []byte("v")), "READONLY")

	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

package app

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jjjenkim/fis-results-scraper/internal/config"
	"github.com/jjjenkim/fis-results-scraper/internal/roster"
	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

const rosterYAML = `
athletes:
  - fis_code: "235622"
    name: 이승훈
    name_en: LEE Seunghoon
    sector_code: FS
    discipline: Freestyle
    sub_discipline: HP/SS
  - fis_code: "197811"
    name: 최가온
    name_en: CHOI Gaon
    sector_code: SB
    discipline: Snowboard
    sub_discipline: HP
`

type fixtureFetcher struct {
	mu    sync.Mutex
	body  []byte
	calls int
}

func (f *fixtureFetcher) Fetch(_ context.Context, req scrape.FetchRequest) (scrape.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return scrape.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: f.body}, nil
}

func (f *fixtureFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type instantSleeper struct{}

func (instantSleeper) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	rosterPath := filepath.Join(dir, "roster.yaml")
	require.NoError(t, os.WriteFile(rosterPath, []byte(rosterYAML), 0o600))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Scraper.RosterPath = rosterPath
	cfg.Output.LocalPath = filepath.Join(dir, "out")
	cfg.Cache.Store = config.StoreFile
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.DB.Driver = config.DriverSQLite
	cfg.DB.DSN = filepath.Join(dir, "db", "results.db")
	return cfg
}

func newFixtureFetcher(t *testing.T) *fixtureFetcher {
	t.Helper()
	body, err := os.ReadFile("../parser/testdata/profile.html")
	require.NoError(t, err)
	return &fixtureFetcher{body: body}
}

func build(t *testing.T, cfg config.Config, f scrape.Fetcher) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, zap.NewNop(), WithFetcher(f), WithSleeper(instantSleeper{}))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestBuildAndScrape(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	fetcher := newFixtureFetcher(t)
	a := build(t, cfg, fetcher)
	require.Len(t, a.Roster(), 2)

	snapshot, summary, err := a.Scrape(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 6, summary.Results)
	assert.Len(t, snapshot.Results, 2)
	assert.Equal(t, 2, fetcher.count())

	assert.FileExists(t, filepath.Join(cfg.Output.LocalPath, "latest.json"))
	assert.FileExists(t, filepath.Join(cfg.Output.LocalPath, "runs", summary.RunID+".json"))

	rows, err := a.sqlite.History(context.Background(), "235622")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	published := a.Published()
	require.Len(t, published, 1)
	assert.Equal(t, summary.RunID, published[0].RunID)
}

func TestRestartReusesPersistedState(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	first := build(t, cfg, newFixtureFetcher(t))
	_, _, err := first.Scrape(context.Background(), "")
	require.NoError(t, err)

	fetcher := newFixtureFetcher(t)
	second := build(t, cfg, fetcher)

	snapshot, err := second.latest.ReadSnapshot(context.Background())
	require.NoError(t, err, "previous snapshot is loaded from disk")
	assert.Len(t, snapshot.Results, 2)

	_, summary, err := second.Scrape(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.CacheHits)
	assert.Zero(t, fetcher.count(), "orchestrator cache restored from the file store")
}

func TestScrapeBySector(t *testing.T) {
	t.Parallel()

	fetcher := newFixtureFetcher(t)
	a := build(t, testConfig(t), fetcher)

	_, summary, err := a.Scrape(context.Background(), "sb")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Athletes)

	_, _, err = a.Scrape(context.Background(), "AL")
	require.ErrorIs(t, err, roster.ErrEmpty)
}

func TestScrapeOne(t *testing.T) {
	t.Parallel()

	fetcher := newFixtureFetcher(t)
	a := build(t, testConfig(t), fetcher)

	res, summary, err := a.ScrapeOne(context.Background(), "197811", false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Len(t, res.LatestResults, 3)
	cached, ok := a.dashboard.Get("197811")
	require.True(t, ok)
	assert.Equal(t, res.ID, cached.ID)

	_, _, err = a.ScrapeOne(context.Background(), "197811", false)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.count(), "second call served from the orchestrator cache")

	_, _, err = a.ScrapeOne(context.Background(), "197811", true)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.count(), "force refetches")

	_, _, err = a.ScrapeOne(context.Background(), "000000", false)
	require.ErrorIs(t, err, scrape.ErrAthleteNotFound)
}

func TestBuildFailures(t *testing.T) {
	t.Parallel()

	t.Run("missing roster", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.Scraper.RosterPath = filepath.Join(t.TempDir(), "absent.yaml")
		_, err := Build(context.Background(), cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "load roster")
	})

	t.Run("unreachable redis", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t)
		cfg.Cache.Store = config.StoreRedis
		cfg.Redis.Addr = "127.0.0.1:1"
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := Build(ctx, cfg, nil, WithFetcher(newFixtureFetcher(t)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis cache store init failed")
	})
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	a := build(t, testConfig(t), newFixtureFetcher(t))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jjjenkim/fis-results-scraper/internal/config"
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

type fakeApp struct {
	mu        sync.Mutex
	sectors   []string
	athletes  []string
	forced    bool
	closed    bool
	served    bool
	scraped   chan struct{}
	summary   scrape.RunSummary
	scrapeErr error
}

func newFakeApp() *fakeApp {
	return &fakeApp{
		scraped: make(chan struct{}, 1),
		summary: scrape.RunSummary{RunID: "run-1", Athletes: 2, Succeeded: 2, Results: 6},
	}
}

func (f *fakeApp) Logger() *zap.Logger                { return zap.NewNop() }
func (f *fakeApp) Roster() []scrape.AthleteDescriptor { return nil }

func (f *fakeApp) Scrape(_ context.Context, sector string) (scrape.Snapshot, scrape.RunSummary, error) {
	f.mu.Lock()
	f.sectors = append(f.sectors, sector)
	f.mu.Unlock()
	select {
	case f.scraped <- struct{}{}:
	default:
	}
	snap := scrape.Snapshot{RunID: f.summary.RunID, Results: map[string]scrape.AthleteResults{
		"235622": {ID: "235622", Name: "이승훈"},
	}}
	return snap, f.summary, f.scrapeErr
}

func (f *fakeApp) ScrapeOne(_ context.Context, id string, force bool) (scrape.AthleteResults, scrape.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.athletes = append(f.athletes, id)
	f.forced = force
	if id == "000000" {
		return scrape.AthleteResults{}, scrape.RunSummary{}, scrape.ErrAthleteNotFound
	}
	if id == "403403" {
		return scrape.AthleteResults{}, scrape.RunSummary{Athletes: 1, Failed: 1, Forbidden: 1}, nil
	}
	return scrape.AthleteResults{ID: id, Name: "최가온"}, scrape.RunSummary{Athletes: 1, Succeeded: 1}, nil
}

func (f *fakeApp) Serve(ctx context.Context) error {
	f.mu.Lock()
	f.served = true
	f.mu.Unlock()
	select {
	case <-ctx.Done():
	case <-time.After(50 * time.Millisecond):
	}
	return nil
}

func (f *fakeApp) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// setup swaps the package factories and writes a config pointing at a
// temporary roster. It returns the config path.
func setup(t *testing.T, fake *fakeApp) string {
	t.Helper()

	origApp, origLogger := newApp, newLogger
	t.Cleanup(func() { newApp, newLogger = origApp, origLogger })
	newLogger = func(bool) (*zap.Logger, error) { return zap.NewNop(), nil }
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		if fake == nil {
			return nil, errors.New("boom")
		}
		return fake, nil
	}

	dir := t.TempDir()
	rosterPath := filepath.Join(dir, "roster.yaml")
	require.NoError(t, os.WriteFile(rosterPath, []byte(rosterYAML), 0o600))
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := "scraper:\n  roster_path: " + rosterPath + "\nlogging:\n  development: false\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o600))
	return cfgPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScrapeAll(t *testing.T) {
	fake := newFakeApp()
	cfgPath := setup(t, fake)

	out, err := run(t, "--config", cfgPath, "scrape", "all", "--sector", "FS")
	require.NoError(t, err)

	var summary scrape.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, []string{"FS"}, fake.sectors)
	assert.True(t, fake.closed, "app is closed after the command")
}

func TestScrapeAllSnapshotOutput(t *testing.T) {
	fake := newFakeApp()
	cfgPath := setup(t, fake)

	out, err := run(t, "--config", cfgPath, "scrape", "all", "--snapshot")
	require.NoError(t, err)

	var snap scrape.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Contains(t, snap.Results, "235622")
}

func TestScrapeAllEveryAthleteFailed(t *testing.T) {
	fake := newFakeApp()
	fake.summary = scrape.RunSummary{RunID: "run-2", Athletes: 2, Failed: 2}
	cfgPath := setup(t, fake)

	_, err := run(t, "--config", cfgPath, "scrape", "all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 athletes failed")
}

func TestScrapeAllRunError(t *testing.T) {
	fake := newFakeApp()
	fake.scrapeErr = errors.New("roster has no athletes")
	cfgPath := setup(t, fake)

	_, err := run(t, "--config", cfgPath, "scrape", "all", "--sector", "AL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "roster has no athletes")
}

func TestScrapeAthlete(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		force   bool
	}{
		{name: "ok", args: []string{"197811"}},
		{name: "forced", args: []string{"197811", "--force"}, force: true},
		{name: "unknown", args: []string{"000000"}, wantErr: "not in roster"},
		{name: "blocked", args: []string{"403403"}, wantErr: "blocked by federation site"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeApp()
			cfgPath := setup(t, fake)

			out, err := run(t, append([]string{"--config", cfgPath, "scrape", "athlete"}, tt.args...)...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			var res scrape.AthleteResults
			require.NoError(t, json.Unmarshal([]byte(out), &res))
			assert.Equal(t, "197811", res.ID)
			assert.Equal(t, tt.force, fake.forced)
		})
	}
}

func TestScrapeAthleteRequiresID(t *testing.T) {
	cfgPath := setup(t, newFakeApp())

	_, err := run(t, "--config", cfgPath, "scrape", "athlete")
	require.Error(t, err)
}

func TestServeScrapesOnStart(t *testing.T) {
	fake := newFakeApp()
	cfgPath := setup(t, fake)

	_, err := run(t, "--config", cfgPath, "serve", "--scrape-on-start")
	require.NoError(t, err)
	assert.True(t, fake.served)

	select {
	case <-fake.scraped:
	case <-time.After(5 * time.Second):
		t.Fatal("startup scrape never ran")
	}
}

func TestRosterSkipsApp(t *testing.T) {
	cfgPath := setup(t, nil)

	out, err := run(t, "--config", cfgPath, "roster")
	require.NoError(t, err, "roster must not build the application")
	assert.Contains(t, out, "FIS CODE")
	assert.Contains(t, out, "LEE Seunghoon")
	assert.Contains(t, out, "CHOI Gaon")

	out, err = run(t, "--config", cfgPath, "roster", "--sector", "sb")
	require.NoError(t, err)
	assert.NotContains(t, out, "LEE Seunghoon")
	assert.Contains(t, out, "competitorid=197811")
}

func TestRosterOverrideFlag(t *testing.T) {
	cfgPath := setup(t, nil)
	alt := filepath.Join(t.TempDir(), "alt.yaml")
	require.NoError(t, os.WriteFile(alt, []byte("athletes:\n  - fis_code: \"111111\"\n    name_en: KIM Test\n    sector_code: AL\n"), 0o600))

	out, err := run(t, "--config", cfgPath, "--roster", alt, "roster")
	require.NoError(t, err)
	assert.Contains(t, out, "KIM Test")
	assert.NotContains(t, out, "CHOI Gaon")
}

func TestVersion(t *testing.T) {
	cfgPath := setup(t, nil)

	out, err := run(t, "--config", cfgPath, "version")
	require.NoError(t, err)
	assert.Equal(t, "fisscraper dev\n", out)
}

func TestAppInitFailure(t *testing.T) {
	cfgPath := setup(t, nil)

	_, err := run(t, "--config", cfgPath, "scrape", "all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}

func TestInvalidConfig(t *testing.T) {
	cfgPath := setup(t, newFakeApp())
	require.NoError(t, os.WriteFile(cfgPath, []byte("scraper:\n  batch_size: 0\n"), 0o600))

	_, err := run(t, "--config", cfgPath, "scrape", "all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestResolveAppMissing(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.EqualError(t, err, "application services not initialized")

	_, err = resolveConfig(context.Background())
	require.Error(t, err)
}

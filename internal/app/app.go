// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/jjjenkim/fis-results-scraper/internal/api"
	"github.com/jjjenkim/fis-results-scraper/internal/cache"
	"github.com/jjjenkim/fis-results-scraper/internal/config"
	"github.com/jjjenkim/fis-results-scraper/internal/corrector"
	collyfetcher "github.com/jjjenkim/fis-results-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/jjjenkim/fis-results-scraper/internal/fetcher/headless"
	"github.com/jjjenkim/fis-results-scraper/internal/orchestrator"
	"github.com/jjjenkim/fis-results-scraper/internal/parser"
	"github.com/jjjenkim/fis-results-scraper/internal/pipeline"
	"github.com/jjjenkim/fis-results-scraper/internal/policy/ratelimit"
	memorypublisher "github.com/jjjenkim/fis-results-scraper/internal/publisher/memory"
	pubsubnotifier "github.com/jjjenkim/fis-results-scraper/internal/publisher/pubsub"
	"github.com/jjjenkim/fis-results-scraper/internal/roster"
	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
	gcsstorage "github.com/jjjenkim/fis-results-scraper/internal/storage/gcs"
	localstorage "github.com/jjjenkim/fis-results-scraper/internal/storage/local"
	pgstore "github.com/jjjenkim/fis-results-scraper/internal/storage/postgres"
	redisstore "github.com/jjjenkim/fis-results-scraper/internal/storage/redis"
	sqlitestore "github.com/jjjenkim/fis-results-scraper/internal/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

// App holds the shared services for one process: the roster, the pipeline
// driver and every sink it publishes to.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	roster    []scrape.AthleteDescriptor
	driver    *pipeline.Driver
	latest    *api.Latest
	dashboard *cache.Cache[scrape.AthleteResults]
	history   api.HistoryReader

	headless  *headlessfetcher.Fetcher
	local     *localstorage.Store
	gcsClient *gcs.Client
	pg        *pgstore.ResultStore
	sqlite    *sqlitestore.ResultStore
	redis     *redisstore.SlotStore
	pubsub    *pubsubnotifier.Notifier
	memory    *memorypublisher.Publisher
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	fetcher scrape.Fetcher
	sleeper corrector.Sleeper
}

// WithFetcher replaces the configured fetcher.
func WithFetcher(f scrape.Fetcher) Option {
	return func(o *buildOptions) { o.fetcher = f }
}

// WithSleeper replaces the real-time sleeper used for pacing and backoff.
func WithSleeper(s corrector.Sleeper) Option {
	return func(o *buildOptions) { o.sleeper = s }
}

// Build creates the application's dependencies. Anything opened before a
// failure is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, latest: api.NewLatest()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.logger.Info("building application dependencies",
		zap.String("roster", cfg.Scraper.RosterPath),
		zap.String("http_mode", cfg.HTTP.Mode),
		zap.String("cache_store", cfg.Cache.Store),
		zap.String("db_driver", cfg.DB.Driver),
	)

	a.roster, err = roster.Load(cfg.Scraper.RosterPath)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	a.logger.Info("roster loaded", zap.Int("athletes", len(a.roster)))

	fetcher := o.fetcher
	if fetcher == nil {
		if fetcher, err = a.setupFetcher(); err != nil {
			return nil, err
		}
	}

	slots, err := a.setupCacheStore(ctx)
	if err != nil {
		return nil, err
	}

	sinks, err := a.setupSinks(ctx)
	if err != nil {
		return nil, err
	}

	notifier, err := a.setupNotifier(ctx)
	if err != nil {
		return nil, err
	}

	cacheOpts := []cache.Option{cache.WithLogger(a.logger.Named("cache"))}
	if slots != nil {
		cacheOpts = append(cacheOpts, cache.WithStore(slots))
	}
	a.dashboard = cache.New[scrape.AthleteResults](cache.Config{
		TTL:        cfg.Cache.TTL,
		MaxSize:    cfg.Cache.MaxSize,
		StorageKey: cfg.Cache.StorageKey,
	}, cacheOpts...)

	driverOpts := []pipeline.Option{
		pipeline.WithLogger(a.logger.Named("pipeline")),
		pipeline.WithParser(parser.New(
			parser.WithRowLimit(cfg.Scraper.RowLimit),
			parser.WithLogger(a.logger.Named("parser")),
		)),
		pipeline.WithOrchestrator(orchestrator.New[pipeline.Results](orchestrator.Config{
			MaxConcurrent: cfg.Orchestrator.MaxConcurrent,
			CacheTTL:      cfg.Orchestrator.CacheTTL,
			CacheMaxSize:  cfg.Orchestrator.CacheMaxSize,
		}, cacheOpts...)),
		pipeline.WithSinks(sinks...),
		pipeline.WithNotifier(notifier),
	}
	correctorOpts := []corrector.Option{}
	if o.sleeper != nil {
		driverOpts = append(driverOpts, pipeline.WithSleeper(o.sleeper))
		correctorOpts = append(correctorOpts, corrector.WithSleeper(o.sleeper))
	}
	driverOpts = append(driverOpts, pipeline.WithCorrector(corrector.New(corrector.Config{
		MaxAttempts: cfg.Corrector.MaxAttempts,
		BaseDelay:   cfg.Corrector.BaseDelay,
	}, correctorOpts...)))

	a.driver, err = pipeline.New(pipeline.Config{
		BatchSize:      cfg.Scraper.BatchSize,
		RequestDelay:   cfg.Scraper.RequestDelay,
		BatchDelay:     cfg.Scraper.BatchDelay,
		AttemptTimeout: cfg.Corrector.AttemptTimeout,
	}, fetcher, driverOpts...)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	a.primeLatest(ctx)
	a.logger.Info("application services initialized")
	return a, nil
}

func (a *App) setupFetcher() (scrape.Fetcher, error) {
	limiter := ratelimit.New(ratelimit.Config{RPS: a.cfg.HTTP.RatePerSecond, Burst: a.cfg.HTTP.Burst})
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.HTTP.UserAgent,
		Timeout:   a.cfg.HTTP.Timeout,
	}, collyfetcher.WithLimiter(limiter))

	needHeadless := a.cfg.HTTP.Mode == config.ModeHeadless || a.cfg.HTTP.EscalateOnForbidden
	if !needHeadless {
		a.logger.Info("using colly fetcher", zap.Float64("rate_per_second", a.cfg.HTTP.RatePerSecond))
		return static, nil
	}

	var err error
	a.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       a.cfg.HTTP.HeadlessMaxParallel,
		UserAgent:         a.cfg.HTTP.UserAgent,
		NavigationTimeout: a.cfg.HTTP.Timeout,
		Limiter:           limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	if a.cfg.HTTP.Mode == config.ModeHeadless {
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.HTTP.HeadlessMaxParallel))
		return a.headless, nil
	}
	a.logger.Info("using colly fetcher with headless escalation")
	return &headlessfetcher.Escalating{
		Primary:  static,
		Renderer: a.headless,
		Detector: headlessfetcher.NewDetector(0),
		Logger:   a.logger.Named("fetcher"),
	}, nil
}

func (a *App) setupCacheStore(ctx context.Context) (cache.Store, error) {
	switch a.cfg.Cache.Store {
	case config.StoreFile:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Cache.Dir})
		if err != nil {
			return nil, fmt.Errorf("file cache store init failed: %w", err)
		}
		a.logger.Info("using file cache store", zap.String("dir", a.cfg.Cache.Dir))
		return store, nil
	case config.StoreRedis:
		var err error
		a.redis, err = redisstore.New(ctx, redisstore.Config{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache store init failed: %w", err)
		}
		a.logger.Info("using redis cache store", zap.String("addr", a.cfg.Redis.Addr))
		return a.redis, nil
	default:
		a.logger.Debug("cache persistence disabled")
		return nil, nil
	}
}

func (a *App) setupSinks(ctx context.Context) ([]scrape.SnapshotSink, error) {
	sinks := []scrape.SnapshotSink{a.latest}
	var err error

	if a.cfg.Output.LocalPath != "" {
		a.local, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Output.LocalPath})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store init failed: %w", err)
		}
		sinks = append(sinks, a.local)
		a.logger.Info("writing snapshots locally", zap.String("path", a.cfg.Output.LocalPath))
	}

	if a.cfg.Output.GCSBucket != "" {
		a.gcsClient, err = gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		writer, err := gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Output.GCSBucket,
			Prefix: a.cfg.Output.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot writer init failed: %w", err)
		}
		sinks = append(sinks, writer)
		a.logger.Info("writing snapshots to GCS", zap.String("bucket", a.cfg.Output.GCSBucket))
	}

	switch a.cfg.DB.Driver {
	case config.DriverPostgres:
		a.pg, err = pgstore.New(ctx, pgstore.Config{
			DSN:         a.cfg.DB.DSN,
			TablePrefix: a.cfg.DB.TablePrefix,
			MaxConns:    int32(a.cfg.DB.MaxConns), //nolint:gosec // validated positive and small
		})
		if err != nil {
			return nil, fmt.Errorf("postgres result store init failed: %w", err)
		}
		if err := a.pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		sinks = append(sinks, a.pg)
		a.logger.Info("postgres result store initialized", zap.String("table_prefix", a.cfg.DB.TablePrefix))
	case config.DriverSQLite:
		a.sqlite, err = sqlitestore.New(ctx, a.cfg.DB.DSN, a.cfg.DB.TablePrefix)
		if err != nil {
			return nil, fmt.Errorf("sqlite result store init failed: %w", err)
		}
		a.history = a.sqlite
		sinks = append(sinks, a.sqlite)
		a.logger.Info("sqlite result store initialized", zap.String("path", a.cfg.DB.DSN))
	default:
		a.logger.Warn("no result database configured; runs are kept as snapshots only")
	}
	return sinks, nil
}

func (a *App) setupNotifier(ctx context.Context) (scrape.Notifier, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub project configured, using in-memory notifier")
		a.memory = memorypublisher.New()
		return a.memory, nil
	}
	var err error
	a.pubsub, err = pubsubnotifier.New(ctx, pubsubnotifier.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		Topic:     a.cfg.PubSub.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub notifier init failed: %w", err)
	}
	a.logger.Info("Pub/Sub notifier initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.pubsub, nil
}

// primeLatest loads the previous run's snapshot so the API can serve it
// before the first run of this process completes.
func (a *App) primeLatest(ctx context.Context) {
	if a.local == nil {
		return
	}
	snapshot, err := a.local.ReadSnapshot(ctx)
	if err != nil {
		a.logger.Debug("no previous snapshot on disk", zap.Error(err))
		return
	}
	_ = a.latest.WriteSnapshot(ctx, snapshot, scrape.RunSummary{})
	a.logger.Info("loaded previous snapshot",
		zap.String("run_id", snapshot.RunID),
		zap.Int("athletes", len(snapshot.Results)),
	)
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Published returns run summaries announced through the in-memory notifier.
// It is empty when Pub/Sub is configured.
func (a *App) Published() []scrape.RunSummary {
	if a.memory == nil {
		return nil
	}
	return a.memory.Summaries()
}

// Roster returns the loaded athletes.
func (a *App) Roster() []scrape.AthleteDescriptor {
	return a.roster
}

// Scrape runs the pipeline over the roster, optionally limited to one sector.
func (a *App) Scrape(ctx context.Context, sector string) (scrape.Snapshot, scrape.RunSummary, error) {
	athletes := roster.Filter(a.roster, sector)
	if len(athletes) == 0 {
		return scrape.Snapshot{}, scrape.RunSummary{}, fmt.Errorf("no athletes for sector %q: %w", sector, roster.ErrEmpty)
	}
	snapshot, summary, err := a.driver.Run(ctx, athletes)
	if err != nil {
		return snapshot, summary, fmt.Errorf("scrape run: %w", err)
	}
	return snapshot, summary, nil
}

// ScrapeOne refreshes a single athlete and caches the result for the
// dashboard. With force the orchestrator's cached copy is dropped first.
func (a *App) ScrapeOne(ctx context.Context, id string, force bool) (scrape.AthleteResults, scrape.RunSummary, error) {
	if force {
		if athlete, ok := roster.Find(a.roster, id); ok {
			a.driver.Forget(athlete)
		}
	}
	res, summary, err := a.driver.RunOne(ctx, a.roster, id)
	if err != nil {
		return res, summary, fmt.Errorf("scrape athlete: %w", err)
	}
	if summary.Failed == 0 {
		a.dashboard.Set(id, res)
	}
	return res, summary, nil
}

// Handler builds the HTTP API over this App's services.
func (a *App) Handler() (http.Handler, error) {
	server, err := api.NewServer(api.Options{
		Roster:      a.roster,
		Scraper:     a.driver,
		Snapshots:   a.latest,
		History:     a.history,
		Dashboard:   a.dashboard,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Metrics:     a.cfg.Metrics.Enabled,
		Logger:      a.logger.Named("api"),
	})
	if err != nil {
		return nil, fmt.Errorf("api init failed: %w", err)
	}
	return server.Handler(), nil
}

// Serve runs the HTTP API on the configured port until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	handler, err := a.Handler()
	if err != nil {
		_ = ln.Close()
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub notifier close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}

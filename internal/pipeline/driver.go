// Package pipeline drives one end-to-end scrape of the athlete roster:
// batching, scheduling through the orchestrator, retrying through the
// corrector, parsing, aggregation and hand-off to the configured sinks.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jjjenkim/fis-results-scraper/internal/clock/system"
	"github.com/jjjenkim/fis-results-scraper/internal/corrector"
	"github.com/jjjenkim/fis-results-scraper/internal/id/uuid"
	"github.com/jjjenkim/fis-results-scraper/internal/metrics"
	"github.com/jjjenkim/fis-results-scraper/internal/orchestrator"
	"github.com/jjjenkim/fis-results-scraper/internal/parser"
	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

const (
	DefaultBatchSize    = 5
	DefaultRequestDelay = 2 * time.Second
	DefaultBatchDelay   = time.Second
)

// Config controls batching and pacing.
type Config struct {
	BatchSize    int
	RequestDelay time.Duration
	BatchDelay   time.Duration
	// AttemptTimeout bounds a single fetch+parse attempt. Zero disables it.
	AttemptTimeout time.Duration
}

// Results is the orchestrated value of one athlete task.
type Results = []scrape.CompetitionResult

// Driver runs the pipeline. It is safe for sequential reuse; the
// orchestrator cache carries over between runs.
type Driver struct {
	cfg       Config
	fetcher   scrape.Fetcher
	parser    *parser.Parser
	corrector *corrector.Corrector
	orch      *orchestrator.Orchestrator[Results]
	sleeper   corrector.Sleeper
	clock     scrape.Clock
	ids       scrape.IDGenerator
	sinks     []scrape.SnapshotSink
	notifier  scrape.Notifier
	logger    *zap.Logger
}

// Option customizes a Driver.
type Option func(*Driver)

// WithParser overrides the default parser.
func WithParser(p *parser.Parser) Option {
	return func(d *Driver) { d.parser = p }
}

// WithCorrector overrides the default corrector.
func WithCorrector(c *corrector.Corrector) Option {
	return func(d *Driver) { d.corrector = c }
}

// WithOrchestrator overrides the default orchestrator.
func WithOrchestrator(o *orchestrator.Orchestrator[Results]) Option {
	return func(d *Driver) { d.orch = o }
}

// WithSleeper replaces the sleeper used for request and batch delays.
func WithSleeper(s corrector.Sleeper) Option {
	return func(d *Driver) { d.sleeper = s }
}

// WithClock sets the clock used for timestamps.
func WithClock(c scrape.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithIDGenerator sets the run ID source.
func WithIDGenerator(g scrape.IDGenerator) Option {
	return func(d *Driver) { d.ids = g }
}

// WithSinks appends snapshot sinks. Nil sinks are ignored.
func WithSinks(sinks ...scrape.SnapshotSink) Option {
	return func(d *Driver) {
		for _, s := range sinks {
			if s != nil {
				d.sinks = append(d.sinks, s)
			}
		}
	}
}

// WithNotifier announces finished runs.
func WithNotifier(n scrape.Notifier) Option {
	return func(d *Driver) { d.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// New builds a Driver around fetcher.
func New(cfg Config, fetcher scrape.Fetcher, opts ...Option) (*Driver, error) {
	if fetcher == nil {
		return nil, errors.New("pipeline requires a fetcher")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RequestDelay < 0 || cfg.BatchDelay < 0 || cfg.AttemptTimeout < 0 {
		return nil, errors.New("pipeline delays must be >= 0")
	}
	d := &Driver{
		cfg:     cfg,
		fetcher: fetcher,
		sleeper: corrector.TimerSleeper{},
		clock:   system.New(),
		ids:     uuid.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.parser == nil {
		d.parser = parser.New(parser.WithLogger(d.logger))
	}
	if d.corrector == nil {
		d.corrector = corrector.New(corrector.Config{}, corrector.WithSleeper(d.sleeper))
	}
	if d.orch == nil {
		d.orch = orchestrator.New[Results](orchestrator.Config{})
	}
	return d, nil
}

// Batches splits roster into consecutive groups of at most size athletes.
func Batches(roster []scrape.AthleteDescriptor, size int) [][]scrape.AthleteDescriptor {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]scrape.AthleteDescriptor, 0, (len(roster)+size-1)/size)
	for start := 0; start < len(roster); start += size {
		end := min(start+size, len(roster))
		batches = append(batches, roster[start:end])
	}
	return batches
}

// Stats exposes the orchestrator counters.
func (d *Driver) Stats() orchestrator.Stats {
	return d.orch.Stats()
}

// Forget drops a cached athlete so the next run refetches it.
func (d *Driver) Forget(athlete scrape.AthleteDescriptor) bool {
	return d.orch.Forget(athlete.TaskKey())
}

// Run scrapes every athlete on the roster and hands the snapshot to the
// sinks and notifier. Individual athlete failures never abort the run;
// each contributes an empty result set under its identifier.
func (d *Driver) Run(ctx context.Context, roster []scrape.AthleteDescriptor) (scrape.Snapshot, scrape.RunSummary, error) {
	snapshot, summary, err := d.run(ctx, roster)
	if err != nil {
		return snapshot, summary, err
	}
	return snapshot, summary, d.publish(ctx, snapshot, summary)
}

// RunOne scrapes a single athlete from roster without publishing.
func (d *Driver) RunOne(ctx context.Context, roster []scrape.AthleteDescriptor, id string) (scrape.AthleteResults, scrape.RunSummary, error) {
	for _, athlete := range roster {
		if athlete.ID != id {
			continue
		}
		snapshot, summary, err := d.run(ctx, []scrape.AthleteDescriptor{athlete})
		if err != nil {
			return scrape.AthleteResults{}, summary, err
		}
		return snapshot.Results[id], summary, nil
	}
	return scrape.AthleteResults{}, scrape.RunSummary{}, fmt.Errorf("%w: %s", scrape.ErrAthleteNotFound, id)
}

func (d *Driver) run(ctx context.Context, roster []scrape.AthleteDescriptor) (scrape.Snapshot, scrape.RunSummary, error) {
	runID, err := d.ids.NewID()
	if err != nil {
		return scrape.Snapshot{}, scrape.RunSummary{}, fmt.Errorf("create run id: %w", err)
	}
	started := d.clock.Now()
	before := d.orch.Stats()
	logger := d.logger.With(zap.String("run_id", runID))

	snapshot := scrape.Snapshot{
		RunID:   runID,
		Results: make(map[string]scrape.AthleteResults, len(roster)),
	}
	summary := scrape.RunSummary{
		RunID:     runID,
		StartedAt: started,
		Athletes:  len(roster),
	}

	batches := Batches(roster, d.cfg.BatchSize)
	logger.Info("starting pipeline run",
		zap.Int("athletes", len(roster)),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", d.cfg.BatchSize),
	)

	for i, batch := range batches {
		if i > 0 {
			if err := d.sleeper.Sleep(ctx, d.cfg.BatchDelay); err != nil {
				return snapshot, summary, fmt.Errorf("run %s canceled between batches: %w", runID, err)
			}
		}
		summary.Batches = append(summary.Batches, len(batch))
		logger.Info("processing batch",
			zap.Int("batch", i+1),
			zap.Int("of", len(batches)),
			zap.Int("size", len(batch)),
		)

		tasks := make([]orchestrator.Task[Results], len(batch))
		for j, athlete := range batch {
			tasks[j] = orchestrator.Task[Results]{
				Key: athlete.TaskKey(),
				Run: d.athleteTask(athlete, logger),
			}
		}
		for j, outcome := range d.orch.RunSettled(ctx, tasks) {
			d.record(&snapshot, &summary, batch[j], outcome, logger)
		}
		if err := ctx.Err(); err != nil {
			return snapshot, summary, fmt.Errorf("run %s canceled: %w", runID, err)
		}
	}

	finished := d.clock.Now()
	after := d.orch.Stats()
	snapshot.LastUpdated = finished
	summary.FinishedAt = finished
	summary.Duration = finished.Sub(started)
	summary.CacheHits = after.CacheHits - before.CacheHits
	summary.CacheMiss = after.CacheMisses - before.CacheMisses

	status := "success"
	if summary.Failed > 0 {
		status = "partial"
	}
	metrics.ObserveRun(status, summary.Duration)
	logger.Info("pipeline run complete",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("forbidden", summary.Forbidden),
		zap.Int("results", summary.Results),
		zap.Int64("cache_hits", summary.CacheHits),
		zap.Duration("duration", summary.Duration),
	)
	return snapshot, summary, nil
}

func (d *Driver) record(
	snapshot *scrape.Snapshot,
	summary *scrape.RunSummary,
	athlete scrape.AthleteDescriptor,
	outcome orchestrator.Outcome[Results],
	logger *zap.Logger,
) {
	entry := scrape.AthleteResults{
		ID:            athlete.ID,
		Name:          athlete.Name,
		NameEn:        athlete.NameEn,
		LatestResults: []scrape.CompetitionResult{},
		LastUpdated:   d.clock.Now(),
	}
	fields := []zap.Field{zap.String("fis_code", athlete.ID), zap.String("athlete", athlete.DisplayName())}

	switch {
	case outcome.Err == nil:
		if outcome.Value != nil {
			entry.LatestResults = outcome.Value
		}
		summary.Succeeded++
		summary.Results += len(entry.LatestResults)
		metrics.ObserveAthlete("success")
		logger.Debug("athlete scraped", append(fields,
			zap.Int("results", len(entry.LatestResults)),
			zap.Bool("cached", outcome.Cached),
		)...)
	case scrape.IsForbidden(outcome.Err):
		summary.Failed++
		summary.Forbidden++
		metrics.ObserveAthlete("forbidden")
		logger.Warn("profile blocked by federation site (403)", append(fields, zap.Error(outcome.Err))...)
	default:
		summary.Failed++
		metrics.ObserveAthlete("failed")
		logger.Warn("athlete scrape failed", append(fields, zap.Error(outcome.Err))...)
	}
	snapshot.Results[athlete.ID] = entry
}

func (d *Driver) athleteTask(athlete scrape.AthleteDescriptor, logger *zap.Logger) func(context.Context) (Results, error) {
	c := d.corrector.Observed(d.retryObserver(athlete, logger))
	// The attempt timeout covers the request and parse only, not the pacing.
	timed := corrector.Timed(d.cfg.AttemptTimeout, func(ctx context.Context) (Results, error) {
		return d.attempt(ctx, athlete)
	})
	op := func(ctx context.Context) (Results, error) {
		results, err := timed(ctx)
		// Every attempt is paced, including failed ones.
		if sleepErr := d.sleeper.Sleep(ctx, d.cfg.RequestDelay); sleepErr != nil && err == nil {
			return nil, sleepErr
		}
		return results, err
	}
	return func(ctx context.Context) (Results, error) {
		metrics.IncActiveTasks()
		defer metrics.DecActiveTasks()
		return corrector.Do(ctx, c, op)
	}
}

func (d *Driver) attempt(ctx context.Context, athlete scrape.AthleteDescriptor) (Results, error) {
	resp, err := d.fetcher.Fetch(ctx, scrape.FetchRequest{URL: athlete.ProfileURL})
	status := resp.StatusCode
	var statusErr *scrape.StatusError
	if errors.As(err, &statusErr) {
		status = statusErr.Code
	}
	metrics.ObserveFetch(athlete.ProfileURL, status, len(resp.Body), resp.Duration)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 0 && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return nil, &scrape.StatusError{URL: athlete.ProfileURL, Code: resp.StatusCode}
	}

	fallback := athlete.SubDiscipline
	if fallback == "" {
		fallback = athlete.Discipline
	}
	parsed, err := d.parser.Parse(bytes.NewReader(resp.Body), fallback)
	if err != nil {
		return nil, err
	}
	metrics.ObserveRowSkips(string(parser.SkipMalformed), parsed.Diagnostics.Count(parser.SkipMalformed))
	metrics.ObserveRowSkips(string(parser.SkipIncomplete), parsed.Diagnostics.Count(parser.SkipIncomplete))
	if parsed.Results == nil {
		return Results{}, nil
	}
	return parsed.Results, nil
}

func (d *Driver) retryObserver(athlete scrape.AthleteDescriptor, logger *zap.Logger) corrector.Observer {
	return corrector.ObserverFuncs{
		Retry: func(attempt int, kind corrector.ErrorKind, delay time.Duration, err error) {
			if delay == 0 {
				logger.Debug("final athlete scrape attempt failed",
					zap.String("fis_code", athlete.ID),
					zap.Int("attempt", attempt),
					zap.Stringer("kind", kind),
				)
				return
			}
			metrics.ObserveRetry(kind.String())
			logger.Warn("retrying athlete scrape",
				zap.String("fis_code", athlete.ID),
				zap.Int("attempt", attempt),
				zap.Stringer("kind", kind),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
		Success: func(attempt int) {
			logger.Info("athlete scrape recovered",
				zap.String("fis_code", athlete.ID),
				zap.Int("attempt_index", attempt),
			)
		},
	}
}

func (d *Driver) publish(ctx context.Context, snapshot scrape.Snapshot, summary scrape.RunSummary) error {
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.WriteSnapshot(ctx, snapshot, summary); err != nil {
			errs = append(errs, err)
		}
	}
	if d.notifier != nil {
		id, err := d.notifier.Notify(ctx, summary)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify run complete: %w", err))
		} else {
			d.logger.Info("published run summary", zap.String("run_id", summary.RunID), zap.String("message_id", id))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("publish run %s: %w", summary.RunID, err)
	}
	return nil
}

// Package cmd defines and implements the CLI commands for the fisscraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jjjenkim/fis-results-scraper/internal/app"
	"github.com/jjjenkim/fis-results-scraper/internal/config"
	"github.com/jjjenkim/fis-results-scraper/internal/logging"
	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
	pkgconfig "github.com/jjjenkim/fis-results-scraper/pkg/config"
)

// ctxKey is the key type for values stored in the command context.
type ctxKey string

const (
	appKey ctxKey = "app"
	cfgKey ctxKey = "config"

	// skipApp marks commands that only need configuration.
	skipApp = "skip-app"
)

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Logger() *zap.Logger
	Roster() []scrape.AthleteDescriptor
	Scrape(ctx context.Context, sector string) (scrape.Snapshot, scrape.RunSummary, error)
	ScrapeOne(ctx context.Context, id string, force bool) (scrape.AthleteResults, scrape.RunSummary, error)
	Serve(ctx context.Context) error
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newLogger is a variable so tests can silence output.
var newLogger = logging.New

type rootOptions struct {
	cfgFile    string
	rosterPath string
	restoreLog func()
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "fisscraper",
		Short: "Scrapes FIS athlete profile pages into result snapshots.",
		Long: `fisscraper fetches each rostered athlete's FIS biography page, parses the
latest competition results, and publishes a snapshot for the dashboard.
Requests are batched, paced and retried so the federation site is not hammered.`,
		SilenceUsage: true,

		// Runs before every subcommand: load config, install the logger and,
		// unless the command opts out, build the application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.prepare(cmd)
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
			if opts.restoreLog != nil {
				opts.restoreLog()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "",
		"config file (default: config.yaml in ., ./configs, /etc/fisscraper or $HOME/.fisscraper)")
	cmd.PersistentFlags().StringVar(&opts.rosterPath, "roster", "", "roster file, overrides scraper.roster_path")

	cmd.AddCommand(newScrapeCmd(), newServeCmd(), newRosterCmd(), newVersionCmd())
	return cmd
}

func (o *rootOptions) prepare(cmd *cobra.Command) error {
	path, err := pkgconfig.Locate(o.cfgFile, nil)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.rosterPath != "" {
		cfg.Scraper.RosterPath = o.rosterPath
	}

	logger, err := newLogger(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	o.restoreLog = logging.Install(logger)
	if path != "" {
		logger.Debug("using config file", zap.String("path", path))
	}

	ctx := context.WithValue(cmd.Context(), cfgKey, cfg)
	if cmd.Annotations[skipApp] == "" {
		appInstance, err := newApp(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize application services: %w", err)
		}
		ctx = context.WithValue(ctx, appKey, appInstance)
	}
	cmd.SetContext(ctx)
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context, which stops a run between attempts or shuts the server down.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fisscraper:", err)
		os.Exit(1)
	}
}

// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. FISSCRAPER_SCRAPER_BATCH_SIZE=3.
const EnvPrefix = "FISSCRAPER"

// Provider choices.
const (
	ModeStatic   = "static"
	ModeHeadless = "headless"

	StoreNone  = "none"
	StoreFile  = "file"
	StoreRedis = "redis"

	DriverNone     = "none"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Scraper      ScraperConfig      `mapstructure:"scraper"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Corrector    CorrectorConfig    `mapstructure:"corrector"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Output       OutputConfig       `mapstructure:"output"`
	DB           DBConfig           `mapstructure:"db"`
	Redis        RedisConfig        `mapstructure:"redis"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Server       ServerConfig       `mapstructure:"server"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ScraperConfig governs batching and pacing of a run.
type ScraperConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	RequestDelay time.Duration `mapstructure:"request_delay"`
	BatchDelay   time.Duration `mapstructure:"batch_delay"`
	RowLimit     int           `mapstructure:"row_limit"`
	RosterPath   string        `mapstructure:"roster_path"`
}

// OrchestratorConfig bounds concurrency and the per-athlete result cache.
type OrchestratorConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CacheMaxSize  int           `mapstructure:"cache_max_size"`
}

// CacheConfig sizes the dashboard cache and picks its durable slot backend.
type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxSize    int           `mapstructure:"max_size"`
	StorageKey string        `mapstructure:"storage_key"`
	Store      string        `mapstructure:"store"`
	Dir        string        `mapstructure:"dir"`
}

// CorrectorConfig controls retry behavior.
type CorrectorConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// HTTPConfig configures how profile pages are requested.
type HTTPConfig struct {
	Mode                string        `mapstructure:"mode"`
	UserAgent           string        `mapstructure:"user_agent"`
	Timeout             time.Duration `mapstructure:"timeout"`
	RatePerSecond       float64       `mapstructure:"rate_per_second"`
	Burst               int           `mapstructure:"burst"`
	HeadlessMaxParallel int           `mapstructure:"headless_max_parallel"`
	EscalateOnForbidden bool          `mapstructure:"escalate_on_forbidden"`
}

// OutputConfig selects where snapshots are written.
type OutputConfig struct {
	LocalPath string `mapstructure:"local_path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// DBConfig controls access to the relational result store.
type DBConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
	MaxConns    int    `mapstructure:"max_conns"`
}

// RedisConfig points the cache slot store at a Redis server.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PubSubConfig holds metadata for run-complete notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.batch_size", 5)
	v.SetDefault("scraper.request_delay", 2*time.Second)
	v.SetDefault("scraper.batch_delay", time.Second)
	v.SetDefault("scraper.row_limit", 50)
	v.SetDefault("scraper.roster_path", "configs/roster.yaml")
	v.SetDefault("orchestrator.max_concurrent", 5)
	v.SetDefault("orchestrator.cache_ttl", time.Hour)
	v.SetDefault("orchestrator.cache_max_size", 1000)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.max_size", 500)
	v.SetDefault("cache.storage_key", "fis-dashboard-cache")
	v.SetDefault("cache.store", StoreNone)
	v.SetDefault("cache.dir", "data")
	v.SetDefault("corrector.max_attempts", 5)
	v.SetDefault("corrector.base_delay", time.Second)
	v.SetDefault("corrector.attempt_timeout", time.Duration(0))
	v.SetDefault("http.mode", ModeStatic)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.rate_per_second", 0.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.headless_max_parallel", 1)
	v.SetDefault("http.escalate_on_forbidden", false)
	v.SetDefault("output.local_path", "data")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.gcs_prefix", "")
	v.SetDefault("db.driver", DriverNone)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table_prefix", "fis_")
	v.SetDefault("db.max_conns", 4)
	// Empty defaults register the keys so FISSCRAPER_* overrides reach Unmarshal.
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "fis-runs")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scraper.BatchSize <= 0 {
		return fmt.Errorf("scraper.batch_size must be > 0")
	}
	if c.Scraper.RequestDelay < 0 {
		return fmt.Errorf("scraper.request_delay must be >= 0")
	}
	if c.Scraper.BatchDelay < 0 {
		return fmt.Errorf("scraper.batch_delay must be >= 0")
	}
	if c.Scraper.RowLimit <= 0 {
		return fmt.Errorf("scraper.row_limit must be > 0")
	}
	if c.Orchestrator.MaxConcurrent <= 0 {
		return fmt.Errorf("orchestrator.max_concurrent must be > 0")
	}
	if c.Orchestrator.CacheTTL <= 0 {
		return fmt.Errorf("orchestrator.cache_ttl must be > 0")
	}
	if c.Orchestrator.CacheMaxSize <= 0 {
		return fmt.Errorf("orchestrator.cache_max_size must be > 0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be > 0")
	}
	if c.Corrector.MaxAttempts <= 0 {
		return fmt.Errorf("corrector.max_attempts must be > 0")
	}
	if c.Corrector.BaseDelay <= 0 {
		return fmt.Errorf("corrector.base_delay must be > 0")
	}
	if c.Corrector.AttemptTimeout < 0 {
		return fmt.Errorf("corrector.attempt_timeout must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.RatePerSecond < 0 {
		return fmt.Errorf("http.rate_per_second must be >= 0")
	}
	if c.HTTP.RatePerSecond > 0 && c.HTTP.Burst <= 0 {
		return fmt.Errorf("http.burst must be > 0 when rate limiting is enabled")
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

func (c Config) validateProviders() error {
	switch c.HTTP.Mode {
	case ModeStatic:
	case ModeHeadless:
		if c.HTTP.HeadlessMaxParallel <= 0 {
			return fmt.Errorf("http.headless_max_parallel must be > 0 in headless mode")
		}
	default:
		return fmt.Errorf("http.mode %q must be %s or %s", c.HTTP.Mode, ModeStatic, ModeHeadless)
	}
	if c.HTTP.EscalateOnForbidden && c.HTTP.HeadlessMaxParallel <= 0 {
		return fmt.Errorf("http.headless_max_parallel must be > 0 when escalation is enabled")
	}

	switch c.Cache.Store {
	case StoreNone, "":
	case StoreFile:
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir must be set when cache.store is file")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when cache.store is redis")
		}
	default:
		return fmt.Errorf("cache.store %q must be none, file or redis", c.Cache.Store)
	}

	switch c.DB.Driver {
	case DriverNone, "":
	case DriverPostgres, DriverSQLite:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.driver is %s", c.DB.Driver)
		}
		if c.DB.MaxConns <= 0 {
			return fmt.Errorf("db.max_conns must be > 0")
		}
	default:
		return fmt.Errorf("db.driver %q must be none, postgres or sqlite", c.DB.Driver)
	}

	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic must be set when pubsub.project_id is set")
	}
	return nil
}

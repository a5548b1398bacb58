// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/price-harvester/internal/logging"
	"github.com/JakeFAU/price-harvester/internal/telemetry"
)

// Provider names shared by the pluggable sections.
const (
	ProviderMemory   = "memory"
	ProviderPostgres = "postgres"
	ProviderPubSub   = "pubsub"
	ProviderRedis    = "redis"
	ProviderLocal    = "local"
	ProviderGCS      = "gcs"
	ProviderLog      = "log"
	ProviderWebhook  = "webhook"
)

// Schedule windows.
const (
	WindowSingle    = "single"
	WindowYesterday = "yesterday"
	WindowLastWeek  = "last-week"
	WindowLastMonth = "last-month"
	WindowAll       = "all"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Environment string           `mapstructure:"environment"`
	Logging     logging.Config   `mapstructure:"logging"`
	Browser     BrowserConfig    `mapstructure:"browser"`
	Fetch       FetchConfig      `mapstructure:"fetch"`
	Queue       QueueConfig      `mapstructure:"queue"`
	Pusher      PusherConfig     `mapstructure:"pusher"`
	Crawler     CrawlerConfig    `mapstructure:"crawler"`
	Sink        SinkConfig       `mapstructure:"sink"`
	Registry    RegistryConfig   `mapstructure:"registry"`
	Archive     ArchiveConfig    `mapstructure:"archive"`
	Notifier    NotifierConfig   `mapstructure:"notifier"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Tracing     telemetry.Config `mapstructure:"tracing"`
	Schedule    ScheduleConfig   `mapstructure:"schedule"`
	Sources     SourcesConfig    `mapstructure:"sources"`
}

// BrowserConfig controls the shared headless browser.
type BrowserConfig struct {
	Headless          bool              `mapstructure:"headless"`
	Stealth           bool              `mapstructure:"stealth"`
	NoSandbox         bool              `mapstructure:"no_sandbox"`
	ExecPath          string            `mapstructure:"exec_path"`
	UserAgent         string            `mapstructure:"user_agent"`
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout"`
	ViewportWidth     int               `mapstructure:"viewport_width"`
	ViewportHeight    int               `mapstructure:"viewport_height"`
	NavigationQPS     float64           `mapstructure:"navigation_qps"`
	ExtraHeaders      map[string]string `mapstructure:"extra_headers"`
}

// FetchConfig controls static page fetching.
type FetchConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// QueueConfig controls every run's job queue.
type QueueConfig struct {
	Producers              int           `mapstructure:"producers"`
	Consumers              int           `mapstructure:"consumers"`
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	StatsInterval          time.Duration `mapstructure:"stats_interval"`
	JobTimeout             time.Duration `mapstructure:"job_timeout"`
}

// PusherConfig controls output buffering.
type PusherConfig struct {
	Threshold int `mapstructure:"threshold"`
}

// CrawlerConfig controls range crawls.
type CrawlerConfig struct {
	RangeThreshold int           `mapstructure:"range_threshold"`
	RangeDelay     time.Duration `mapstructure:"range_delay"`
}

// PostgresConfig is a Postgres pool plus optional table overrides.
type PostgresConfig struct {
	DSN             string            `mapstructure:"dsn"`
	MaxConns        int32             `mapstructure:"max_conns"`
	MinConns        int32             `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration     `mapstructure:"max_conn_lifetime"`
	Tables          map[string]string `mapstructure:"tables"`
}

// PubSubConfig names the topic batches are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// RedisConfig configures the stream sink.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// SinkConfig selects where batches go.
type SinkConfig struct {
	Provider string         `mapstructure:"provider"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// RegistryConfig selects where sources and alarms live.
type RegistryConfig struct {
	Provider string         `mapstructure:"provider"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// ArchiveConfig selects where raw documents are kept.
type ArchiveConfig struct {
	Provider string      `mapstructure:"provider"`
	Local    LocalConfig `mapstructure:"local"`
	GCS      GCSConfig   `mapstructure:"gcs"`
}

// LocalConfig is the filesystem archive root.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSConfig is the archive bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// NotifierConfig selects where reports go.
type NotifierConfig struct {
	Provider string        `mapstructure:"provider"`
	Webhook  WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig is a chat incoming webhook.
type WebhookConfig struct {
	URL      string        `mapstructure:"url"`
	Channel  string        `mapstructure:"channel"`
	Username string        `mapstructure:"username"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls the ops HTTP server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ScheduleEntry runs one source on a cron expression. An empty window crawls
// yesterday for date-aware sources and runs single-shot sources once.
type ScheduleEntry struct {
	Cron   string `mapstructure:"cron"`
	Source string `mapstructure:"source"`
	Window string `mapstructure:"window"`
}

// ScheduleConfig lists the in-process schedule.
type ScheduleConfig struct {
	Entries []ScheduleEntry `mapstructure:"entries"`
}

// SourcesConfig overrides source entry URLs by source name.
type SourcesConfig struct {
	BaseURLs map[string]string `mapstructure:"base_urls"`
}

// Load builds a Config from defaults, an optional file and HARVESTER_*
// environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("environment", "dev")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.viewport_width", 1400)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.navigation_qps", 0)

	v.SetDefault("fetch.user_agent", "price-harvester/1.0")
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.requests_per_second", 0)
	v.SetDefault("fetch.burst", 1)

	v.SetDefault("queue.producers", 1)
	v.SetDefault("queue.consumers", 1)
	v.SetDefault("queue.poll_interval", "100ms")
	v.SetDefault("queue.max_consecutive_failures", 100)
	v.SetDefault("queue.stats_interval", "10s")
	v.SetDefault("queue.job_timeout", "0s")

	v.SetDefault("pusher.threshold", 100)

	v.SetDefault("crawler.range_threshold", 14)
	v.SetDefault("crawler.range_delay", "1s")

	v.SetDefault("sink.provider", ProviderMemory)
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.pubsub.project_id", "")
	v.SetDefault("sink.pubsub.topic_id", "")
	v.SetDefault("sink.redis.addr", "")
	v.SetDefault("sink.postgres.max_conns", 4)
	v.SetDefault("sink.redis.prefix", "harvester")
	v.SetDefault("registry.provider", ProviderMemory)
	v.SetDefault("registry.postgres.dsn", "")
	v.SetDefault("registry.postgres.max_conns", 2)
	v.SetDefault("archive.provider", ProviderMemory)
	v.SetDefault("archive.local.base_dir", "data/archive")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("notifier.provider", ProviderLog)
	v.SetDefault("notifier.webhook.url", "")
	v.SetDefault("notifier.webhook.timeout", "10s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "price-harvester")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and known providers.
func (c Config) Validate() error {
	var errs []error
	if c.Environment == "" {
		errs = append(errs, errors.New("environment must be set"))
	}
	if c.Pusher.Threshold <= 0 {
		errs = append(errs, errors.New("pusher.threshold must be > 0"))
	}
	if c.Queue.Producers <= 0 || c.Queue.Consumers <= 0 {
		errs = append(errs, errors.New("queue.producers and queue.consumers must be > 0"))
	}

	switch c.Sink.Provider {
	case ProviderMemory:
	case ProviderPostgres:
		if c.Sink.Postgres.DSN == "" {
			errs = append(errs, errors.New("sink provider is 'postgres' but sink.postgres.dsn is not set"))
		}
	case ProviderPubSub:
		if c.Sink.PubSub.ProjectID == "" || c.Sink.PubSub.TopicID == "" {
			errs = append(errs, errors.New("sink provider is 'pubsub' but project_id or topic_id is not set"))
		}
	case ProviderRedis:
		if c.Sink.Redis.Addr == "" {
			errs = append(errs, errors.New("sink provider is 'redis' but sink.redis.addr is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink provider: %s", c.Sink.Provider))
	}

	switch c.Registry.Provider {
	case ProviderMemory:
	case ProviderPostgres:
		if c.Registry.Postgres.DSN == "" {
			errs = append(errs, errors.New("registry provider is 'postgres' but registry.postgres.dsn is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown registry provider: %s", c.Registry.Provider))
	}

	switch c.Archive.Provider {
	case ProviderMemory:
	case ProviderLocal:
		if c.Archive.Local.BaseDir == "" {
			errs = append(errs, errors.New("archive provider is 'local' but archive.local.base_dir is not set"))
		}
	case ProviderGCS:
		if c.Archive.GCS.Bucket == "" {
			errs = append(errs, errors.New("archive provider is 'gcs' but archive.gcs.bucket is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive provider: %s", c.Archive.Provider))
	}

	switch c.Notifier.Provider {
	case ProviderLog:
	case ProviderWebhook:
		if c.Notifier.Webhook.URL == "" {
			errs = append(errs, errors.New("notifier provider is 'webhook' but notifier.webhook.url is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notifier provider: %s", c.Notifier.Provider))
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1) {
		errs = append(errs, errors.New("tracing.sample_ratio must be between 0 and 1"))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr must be set when metrics are enabled"))
	}
	for i, e := range c.Schedule.Entries {
		if err := e.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("schedule.entries[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks the cron expression and the window.
func (e ScheduleEntry) Validate() error {
	if e.Source == "" {
		return errors.New("source must be set")
	}
	if _, err := cron.ParseStandard(e.Cron); err != nil {
		return fmt.Errorf("invalid cron %q: %w", e.Cron, err)
	}
	switch e.Window {
	case "", WindowSingle, WindowYesterday, WindowLastWeek, WindowLastMonth, WindowAll:
		return nil
	default:
		return fmt.Errorf("unknown window %q", e.Window)
	}
}

// Package app builds the long-lived services of a harvester process from
// configuration and hands out ready-to-run crawlers.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/api"
	"github.com/JakeFAU/price-harvester/internal/archive"
	gcsarchive "github.com/JakeFAU/price-harvester/internal/archive/gcs"
	localarchive "github.com/JakeFAU/price-harvester/internal/archive/local"
	memoryarchive "github.com/JakeFAU/price-harvester/internal/archive/memory"
	"github.com/JakeFAU/price-harvester/internal/browser"
	"github.com/JakeFAU/price-harvester/internal/clock/system"
	"github.com/JakeFAU/price-harvester/internal/config"
	"github.com/JakeFAU/price-harvester/internal/crawler"
	"github.com/JakeFAU/price-harvester/internal/database"
	"github.com/JakeFAU/price-harvester/internal/fetch"
	idgen "github.com/JakeFAU/price-harvester/internal/id/uuid"
	lognotify "github.com/JakeFAU/price-harvester/internal/notify/log"
	"github.com/JakeFAU/price-harvester/internal/notify/webhook"
	"github.com/JakeFAU/price-harvester/internal/orchestrator"
	"github.com/JakeFAU/price-harvester/internal/progress"
	"github.com/JakeFAU/price-harvester/internal/progress/sinks"
	"github.com/JakeFAU/price-harvester/internal/queue"
	"github.com/JakeFAU/price-harvester/internal/record"
	registrymemory "github.com/JakeFAU/price-harvester/internal/registry/memory"
	registrypostgres "github.com/JakeFAU/price-harvester/internal/registry/postgres"
	sinkmemory "github.com/JakeFAU/price-harvester/internal/sink/memory"
	sinkpostgres "github.com/JakeFAU/price-harvester/internal/sink/postgres"
	sinkpubsub "github.com/JakeFAU/price-harvester/internal/sink/pubsub"
	sinkredis "github.com/JakeFAU/price-harvester/internal/sink/redis"
	"github.com/JakeFAU/price-harvester/internal/sources"
	"github.com/JakeFAU/price-harvester/internal/telemetry"
)

// Registry is what the app needs from a source registry.
type Registry interface {
	crawler.Registry
	crawler.Alarmer
}

// App holds the shared services of one process.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Sink      crawler.Sink
	Registry  Registry
	Archive   *archive.Archive
	Notifier  crawler.Notifier
	Catalog   *sources.Catalog
	Fetcher   *fetch.Fetcher
	Board     *api.Board
	Clock     crawler.Clock
	Hashes    crawler.HashGenerator
	Validator *record.Validator

	checks  map[string]api.Check
	closers []closer
	pools   map[string]*pgxpool.Pool
}

type closer struct {
	name string
	fn   func() error
}

// New builds every provider selected by cfg. Providers opened before a
// failure are closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := system.New()
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Catalog:   sources.Default(),
		Board:     api.NewBoard(),
		Clock:     clock,
		Hashes:    idgen.New(),
		Validator: record.NewValidator(clock),
		Fetcher: fetch.New(fetch.Config{
			UserAgent:         cfg.Fetch.UserAgent,
			Timeout:           cfg.Fetch.Timeout,
			RespectRobots:     cfg.Fetch.RespectRobots,
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
			Burst:             cfg.Fetch.Burst,
		}, logger),
		checks: make(map[string]api.Check),
		pools:  make(map[string]*pgxpool.Pool),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	logger.Info("initializing application services",
		zap.String("environment", cfg.Environment),
		zap.String("sink", cfg.Sink.Provider),
		zap.String("registry", cfg.Registry.Provider),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("notifier", cfg.Notifier.Provider),
	)
	if a.Sink, err = a.buildSink(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize sink: %w", err)
	}
	if a.Registry, err = a.buildRegistry(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}
	if a.Archive, err = a.buildArchive(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize archive: %w", err)
	}
	if a.Notifier, err = a.buildNotifier(); err != nil {
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}
	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.onClose("tracing", func() error { return tp.Shutdown(context.Background()) })
	}
	return a, nil
}

func (a *App) buildSink(ctx context.Context) (crawler.Sink, error) {
	cfg := a.Config.Sink
	switch cfg.Provider {
	case config.ProviderMemory:
		return sinkmemory.New(a.Logger), nil
	case config.ProviderPostgres:
		pool, err := a.pool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return sinkpostgres.New(pool, sinkpostgres.Tables{
			Wholesale:   cfg.Postgres.Tables["wholesale"],
			Retail:      cfg.Postgres.Tables["retail"],
			Completions: cfg.Postgres.Tables["completions"],
		})
	case config.ProviderPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSub.TopicID)
		a.onClose("pubsub", func() error {
			topic.Stop()
			return client.Close()
		})
		a.checks["pubsub"] = func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", cfg.PubSub.TopicID)
			}
			return nil
		}
		return sinkpubsub.New(topic)
	case config.ProviderRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.onClose("redis", client.Close)
		a.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return sinkredis.New(client, sinkredis.Options{Prefix: cfg.Redis.Prefix, MaxLen: cfg.Redis.MaxLen})
	default:
		return nil, fmt.Errorf("unknown sink provider: %s", cfg.Provider)
	}
}

func (a *App) buildRegistry(ctx context.Context) (Registry, error) {
	cfg := a.Config.Registry
	switch cfg.Provider {
	case config.ProviderMemory:
		return registrymemory.New(), nil
	case config.ProviderPostgres:
		pool, err := a.pool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return registrypostgres.New(pool, registrypostgres.Tables{
			Sources: cfg.Postgres.Tables["sources"],
			Alarms:  cfg.Postgres.Tables["alarms"],
		})
	default:
		return nil, fmt.Errorf("unknown registry provider: %s", cfg.Provider)
	}
}

func (a *App) buildArchive(ctx context.Context) (*archive.Archive, error) {
	cfg := a.Config.Archive
	var store archive.Store
	switch cfg.Provider {
	case config.ProviderMemory:
		store = memoryarchive.New()
	case config.ProviderLocal:
		s, err := localarchive.New(localarchive.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, err
		}
		store = s
	case config.ProviderGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.onClose("gcs", client.Close)
		s, err := gcsarchive.New(client, gcsarchive.Config{Bucket: cfg.GCS.Bucket})
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", cfg.Provider)
	}
	return archive.New(store, a.Clock, a.Logger)
}

func (a *App) buildNotifier() (crawler.Notifier, error) {
	cfg := a.Config.Notifier
	switch cfg.Provider {
	case config.ProviderLog:
		return lognotify.New(a.Logger), nil
	case config.ProviderWebhook:
		return webhook.New(webhook.Config{
			URL:      cfg.Webhook.URL,
			Channel:  cfg.Webhook.Channel,
			Username: cfg.Webhook.Username,
			Timeout:  cfg.Webhook.Timeout,
		}, &http.Client{Timeout: cfg.Webhook.Timeout})
	default:
		return nil, fmt.Errorf("unknown notifier provider: %s", cfg.Provider)
	}
}

// pool opens one pool per DSN; the sink and the registry share it when they
// point at the same database.
func (a *App) pool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	if p, ok := a.pools[cfg.DSN]; ok {
		return p, nil
	}
	p, err := database.Connect(ctx, database.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.pools[cfg.DSN] = p
	name := fmt.Sprintf("postgres-%d", len(a.pools))
	a.onClose(name, func() error {
		p.Close()
		return nil
	})
	a.checks[name] = p.Ping
	return p, nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Settings derives the orchestration settings from the configuration. Queue
// snapshots go to the log, to Prometheus and to the ops board.
func (a *App) Settings() orchestrator.Settings {
	cfg := a.Config
	statsSinks := []progress.Sink{sinks.NewLogSink(a.Logger.Named("progress")), a.Board}
	if promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer); err != nil {
		a.Logger.Warn("prometheus progress sink unavailable", zap.Error(err))
	} else {
		statsSinks = append(statsSinks, promSink)
	}
	return orchestrator.Settings{
		Environment:    cfg.Environment,
		PushThreshold:  cfg.Pusher.Threshold,
		RangeThreshold: cfg.Crawler.RangeThreshold,
		RangeDelay:     cfg.Crawler.RangeDelay,
		Queue: queue.Options{
			Producers:              cfg.Queue.Producers,
			Consumers:              cfg.Queue.Consumers,
			PollInterval:           cfg.Queue.PollInterval,
			MaxConsecutiveFailures: cfg.Queue.MaxConsecutiveFailures,
			StatsInterval:          cfg.Queue.StatsInterval,
			JobTimeout:             cfg.Queue.JobTimeout,
			Browser: browser.Options{
				Headless:          cfg.Browser.Headless,
				Stealth:           cfg.Browser.Stealth,
				NoSandbox:         cfg.Browser.NoSandbox,
				ExecPath:          cfg.Browser.ExecPath,
				UserAgent:         cfg.Browser.UserAgent,
				NavigationTimeout: cfg.Browser.NavigationTimeout,
				ViewportWidth:     cfg.Browser.ViewportWidth,
				ViewportHeight:    cfg.Browser.ViewportHeight,
				NavigationQPS:     cfg.Browser.NavigationQPS,
				ExtraHeaders:      cfg.Browser.ExtraHeaders,
			},
			StatsSinks: statsSinks,
		},
	}
}

// Crawler builds the crawler of the named source.
func (a *App) Crawler(name string) (*orchestrator.Crawler, error) {
	def, err := a.Catalog.Definition(name, sources.Env{
		Fetcher:  a.Fetcher,
		BaseURLs: a.Config.Sources.BaseURLs,
	})
	if err != nil {
		return nil, err
	}
	return orchestrator.New(def, orchestrator.Dependencies{
		Registry:      a.Registry,
		Sink:          a.Sink,
		Archiver:      a.Archive,
		ArchiveReader: a.Archive,
		Notifier:      a.Notifier,
		Alarmer:       a.Registry,
		Clock:         a.Clock,
		Hashes:        a.Hashes,
		Validator:     a.Validator,
		Logger:        a.Logger,
	}, a.Settings())
}

// Server builds the ops server over the app's readiness checks and board.
func (a *App) Server(schedule func() []api.ScheduledRun) *api.Server {
	return api.NewServer(api.Options{
		Checks:   a.checks,
		Board:    a.Board,
		Schedule: schedule,
	}, a.Logger)
}

// Close releases every provider in reverse order of creation. Failures are
// logged and joined.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.Logger.Warn("failed to close provider", zap.String("provider", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

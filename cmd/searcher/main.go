package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/cache"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/filters"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/handler"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/memory"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/router"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/sink"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/elastic"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/tracing"
)

const (
	analyticsBatchSize     = 100
	analyticsFlushInterval = time.Second
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"backend", cfg.Elastic.Backend,
		"index", cfg.Elastic.Index,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Server.Port {
		metrics.StartServer(ctx, cfg.Metrics.Port)
	}

	checker := health.NewChecker()

	backend, err := openBackend(cfg.Elastic, m, checker)
	if err != nil {
		slog.Error("failed to open search backend", "error", err)
		os.Exit(1)
	}

	var store cache.Store
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, condition caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			store = redisClient
			checker.Register("redis", health.PingCheck(redisClient.Ping, false))
			slog.Info("condition cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	conditionCache := cache.New(store, cfg.Redis.CacheTTL, m)

	var (
		filterStore handler.FilterStore
		snapshots   *aggregator.Store
		keys        *apikey.Validator
	)
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		checker.Register("postgres", health.PingCheck(db.Ping, false))

		fs := filters.NewStore(db)
		snapshots = aggregator.NewStore(db, "searcher")
		migrations := []func(context.Context) error{fs.Migrate, snapshots.Migrate}
		if cfg.Auth.Enabled {
			keys = apikey.NewValidator(db)
			migrations = append(migrations, keys.Migrate)
		}
		for _, migrate := range migrations {
			if err := migrate(ctx); err != nil {
				slog.Error("failed to migrate postgres schema", "error", err)
				os.Exit(1)
			}
		}
		filterStore = fs
		slog.Info("saved filters enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	// With Kafka the analytics service aggregates; without it the events are
	// aggregated in this process.
	var (
		publisher analytics.Publisher
		agg       *analytics.Aggregator
	)
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer producer.Close()
		publisher = producer
		checker.Register("kafka", health.PingCheck(producer.Ping, false))
		slog.Info("publishing search events", "topic", cfg.Kafka.Topics.SearchEvents)
	} else {
		agg = analytics.NewAggregator()
		publisher = agg
		if snapshots != nil {
			snapshots.StartPeriodicSave(ctx, agg, cfg.Search.SnapshotInterval)
		}
	}
	collector := analytics.NewCollector(publisher, cfg.Search.AnalyticsBuffer, analyticsBatchSize, analyticsFlushInterval, m)
	collector.Start(ctx)
	defer collector.Close()

	h := handler.New(handler.Options{
		Sink:              backend,
		Compiler:          conditionCache,
		Filters:           filterStore,
		Events:            collector,
		Tracer:            tracing.NewTracer(cfg.Tracing),
		Metrics:           m,
		DefaultIndex:      cfg.Elastic.Index,
		Defaults:          cfg.Elastic.Defaults,
		MaxResults:        cfg.Search.MaxResults,
		MaxConditionBytes: cfg.Search.MaxConditionBytes,
	})

	routes := router.Options{
		Health:         checker,
		Metrics:        m,
		RequestTimeout: cfg.Server.WriteTimeout,
	}
	if agg != nil {
		var lister analytics.SnapshotLister
		if snapshots != nil {
			lister = snapshots
		}
		routes.Analytics = analytics.NewHandler(agg, lister)
	}
	if cfg.Server.RateLimit > 0 {
		routes.Limiter = ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateWindow)
		go routes.Limiter.RunCleanup(ctx, cfg.Server.RateWindow)
	}
	if keys != nil {
		routes.Keys = keys
		routes.Admin = apikey.NewAdminHandler(keys)
		routes.KeyLimiter = ratelimit.New(0, time.Minute)
		go routes.KeyLimiter.RunCleanup(ctx, time.Minute)
		slog.Info("api key authentication enabled")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(h, routes),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}

// openBackend returns the configured sink and registers its health check.
func openBackend(cfg config.ElasticConfig, m *metrics.Metrics, checker *health.Checker) (sink.Sink, error) {
	switch cfg.Backend {
	case "memory":
		idx := memory.New()
		if cfg.SeedFile != "" {
			n, err := idx.LoadFile(cfg.Index, cfg.SeedFile)
			if err != nil {
				return nil, err
			}
			slog.Info("memory index seeded", "index", cfg.Index, "documents", n)
		}
		checker.Register("search_backend", func(context.Context) health.ComponentHealth {
			return health.ComponentHealth{
				Status:  health.StatusUp,
				Message: fmt.Sprintf("memory index, %d documents", idx.DocCount(cfg.Index)),
			}
		})
		return idx, nil
	default:
		client, err := elastic.New(cfg,
			elastic.WithStateHook(func(name string, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}),
			elastic.WithRetryHook(func(method string, _ int, _ error) {
				m.BackendRetriesTotal.WithLabelValues(method).Inc()
			}),
		)
		if err != nil {
			return nil, err
		}
		es := sink.NewElastic(client)
		checker.Register("search_backend", health.PingCheck(es.Ping, true))
		slog.Info("search cluster configured", "addresses", cfg.Addresses)
		return es, nil
	}
}

// Command discovery serves note discovery sessions.
//
// Each session runs the fetch, enrich, filter and sort pipeline against the
// notes backend and publishes its state over HTTP and WebSocket. Note-change
// events from Kafka refresh affected sessions; finished passes are published
// back to Kafka for the analytics service.
//
// Usage:
//
//	go run ./cmd/discovery [-config configs/discovery.yaml]
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

	"github.com/pucknotes/note-discovery/internal/analytics"
	"github.com/pucknotes/note-discovery/internal/analytics/collector"
	"github.com/pucknotes/note-discovery/internal/backend"
	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/discovery/enricher"
	"github.com/pucknotes/note-discovery/internal/discovery/fetcher"
	"github.com/pucknotes/note-discovery/internal/discovery/handler"
	"github.com/pucknotes/note-discovery/internal/discovery/session"
	"github.com/pucknotes/note-discovery/internal/discovery/sorter"
	"github.com/pucknotes/note-discovery/internal/discovery/viewmodel"
	"github.com/pucknotes/note-discovery/internal/ratelimit"
	"github.com/pucknotes/note-discovery/internal/refresh"
	"github.com/pucknotes/note-discovery/pkg/config"
	"github.com/pucknotes/note-discovery/pkg/health"
	"github.com/pucknotes/note-discovery/pkg/kafka"
	"github.com/pucknotes/note-discovery/pkg/logger"
	"github.com/pucknotes/note-discovery/pkg/metrics"
	pkgredis "github.com/pucknotes/note-discovery/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/discovery.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting discovery service",
		"port", cfg.Server.Port,
		"backend", cfg.Backend.BaseURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	client := backend.New(cfg.Backend, m)

	coll, err := discovery.NewCollator(cfg.Discovery.Locale)
	if err != nil {
		slog.Warn("unknown locale, collating as English", "locale", cfg.Discovery.Locale, "error", err)
		coll = discovery.DefaultCollator()
	}

	checker := health.NewChecker()
	checker.Register("backend", health.PingCheck(client.Ping, false))

	var (
		shared     enricher.SharedCache
		redisCache *enricher.RedisCache
	)
	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, shared section cache disabled", "error", err)
		} else {
			defer rc.Close()
			redisCache = enricher.NewRedisCache(rc, cfg.Redis.CacheTTL)
			shared = redisCache
			checker.Register("redis", health.PingCheck(rc.Ping, true))
			slog.Info("shared section cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	enr := enricher.New(client, m, enricher.Options{
		MaxConcurrent: cfg.Discovery.MaxConcurrentFetches,
		Shared:        shared,
		Collator:      coll,
	})

	deps := viewmodel.Deps{
		Fetcher:     fetcher.New(client),
		Enricher:    enr,
		Sorter:      sorter.New(coll),
		Metrics:     m,
		TracePasses: cfg.Tracing.Enabled,
	}

	var batch *collector.BatchCollector
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DiscoveryEvents)
		defer producer.Close()
		batch = collector.NewBatchCollector(producer, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		batch.Start(ctx)
		deps.Observer = analytics.NewCollector(batch)
	}

	registry := session.NewRegistry(deps, cfg.Discovery, m)
	go registry.Run(ctx, time.Minute)

	if cfg.Kafka.Enabled {
		// Every instance holds its own sessions, so each needs every change.
		host, _ := os.Hostname()
		group := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, host)
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.NoteChanges, group,
			refresh.NewListener(registry).Handler())
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("note change consumer error", "error", err)
			}
		}()
		slog.Info("refresh listener started", "topic", cfg.Kafka.Topics.NoteChanges, "group", group)
	}

	limiter := ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateWindow)
	defer limiter.Close()

	h := handler.New(registry, client, cfg.Server.AllowOrigins)
	if redisCache != nil {
		h.WithSharedCache(redisCache)
	}
	router := handler.NewRouter(h, checker, handler.RouterConfig{
		AllowOrigins:   cfg.Server.AllowOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
		Limiter:        limiter,
		Metrics:        m,
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
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

	slog.Info("discovery service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	registry.Close()
	if batch != nil {
		batch.Close()
	}
	slog.Info("discovery service stopped")
}

package main

import (
	"context"
	"database/sql"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/hq-analytics/hqbridge/pkg/access"
	"github.com/hq-analytics/hqbridge/pkg/async"
	"github.com/hq-analytics/hqbridge/pkg/cache"
	"github.com/hq-analytics/hqbridge/pkg/config"
	"github.com/hq-analytics/hqbridge/pkg/hq"
	"github.com/hq-analytics/hqbridge/pkg/importer"
	"github.com/hq-analytics/hqbridge/pkg/ingest"
	"github.com/hq-analytics/hqbridge/pkg/observability"
	"github.com/hq-analytics/hqbridge/pkg/provision"
	"github.com/hq-analytics/hqbridge/pkg/server"
	"github.com/hq-analytics/hqbridge/pkg/session"
	"github.com/hq-analytics/hqbridge/pkg/webhook"
)

const taskTimeout = 30 * time.Minute

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("hqbridge exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Storage.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.Storage.PostgresMinConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Storage.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}

	redisClient, err := cache.NewRedisClient(cfg.Storage.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	for _, migrate := range []func(context.Context, *sql.DB) error{
		provision.RunMigrations,
		ingest.RunMigrations,
		webhook.RunMigrations,
	} {
		if err := migrate(ctx, db); err != nil {
			return err
		}
	}

	keyring, err := webhook.NewKeyring(cfg.EncryptionKeys)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	sessions := session.NewMemoryStore()
	tokens := hq.NewTokenProvider(cfg.HQ.OAuthClientID, cfg.HQ.OAuthClientSecret, cfg.HQ.TokenURL, sessions)
	hqClient := hq.NewClient(cfg.HQ.APIBaseURL, tokens)

	engine, err := provision.NewEngine(provision.NewStore(db), access.NewResolver(hqClient))
	if err != nil {
		return err
	}
	if _, err := engine.EnsureBaseRole(ctx); err != nil {
		return err
	}

	queue := async.NewTaskQueue(ctx, cfg.Ingest.Workers, "ingest", taskTimeout)
	defer queue.Shutdown(cfg.Server.ShutdownTimeout)

	clients := webhook.NewClientStore(db, keyring)
	tokenStore := webhook.NewTokenStore(db)
	tables := ingest.NewTabularStore(db)
	pipeline := ingest.NewPipeline(tables, ingest.NewCatalog(db), cfg.Ingest.DatabaseID, cfg.Ingest.ChunkSize, metrics)
	downloader := ingest.NewDownloader(hqClient, clients, cfg.Ingest.SharedDir,
		cfg.Server.PublicBaseURL+"/hq_webhook/change/",
		cfg.Server.PublicBaseURL+"/oauth/token")
	imports := importer.NewService(
		importer.NewCoordinator(redisClient),
		queue,
		downloader,
		pipeline,
		hqClient,
		cfg.Ingest.AsyncThresholdBytes,
		metrics,
	)

	cronRunner := cron.New()
	if err := webhook.ScheduleTokenCleanup(cronRunner, tokenStore, logger); err != nil {
		return err
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	srv := server.NewServer(server.Options{
		Logger:   logger,
		Metrics:  metrics,
		Registry: registry,
		Sessions: sessions,
		Engine:   engine,
		Imports:  imports,
		Webhook: webhook.NewHandler(
			clients,
			tokenStore,
			webhook.NewProcessor(tables, metrics),
			queue,
			metrics,
		),
		RoleSyncExpiry: cfg.HQ.DomainRoleExpiry,
		RedisClient:    redisClient,
	})

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	return srv.Run(ctx, addr,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		cfg.Server.IdleTimeout,
		cfg.Server.ShutdownTimeout,
	)
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"oaphub/internal/audit"
	"oaphub/internal/docstore"
	"oaphub/internal/fetch"
	"oaphub/internal/jobs"
	"oaphub/internal/platform/config"
	"oaphub/internal/platform/httpserver"
	"oaphub/internal/platform/logger"
	"oaphub/internal/platform/metrics"
	platformredis "oaphub/internal/platform/redis"
	"oaphub/internal/registry/service"
	registrystore "oaphub/internal/registry/store"
	httptransport "oaphub/internal/transport/http"
	"oaphub/internal/verify"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx := context.Background()

	docs, closeDocs, err := buildDocstore(ctx, cfg)
	if err != nil {
		log.Error("document store init failed", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeDocs()

	promRegistry := prometheus.NewRegistry()
	appMetrics := metrics.New(promRegistry)

	fetcher := fetch.New(fetch.WithDevMode(cfg.DevMode), fetch.WithLogger(log))
	attester := verify.NewAttestationChecker(nil, log)
	prober := verify.NewHealthChecker(fetcher, log)

	auditor, err := audit.New(cfg.KafkaBrokers, cfg.AuditTopic, log)
	if err != nil {
		log.Error("audit publisher init failed", "error", err)
		os.Exit(1)
	}
	defer auditor.Close()

	registry := service.New(
		registrystore.New(docs, registrystore.WithLogger(log)),
		fetcher, attester, prober,
		service.WithAuditPublisher(auditor),
		service.WithMetrics(appMetrics),
		service.WithLogger(log),
	)

	runner := jobs.NewRunner(registry,
		jobs.WithConcurrency(cfg.JobConcurrency),
		jobs.WithPace(cfg.FetchPace),
		jobs.WithLogger(log),
	)

	handler := httptransport.New(httptransport.Config{
		Registry:  registry,
		Runner:    runner,
		Logger:    log,
		Metrics:   appMetrics,
		Gatherer:  promRegistry,
		CronToken: cfg.CronToken,
		Limits:    cfg.RateLimits,
	})

	router := chi.NewRouter()
	handler.Register(router)

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting oaphub registry", "addr", cfg.Addr, "store", cfg.StoreBackend, "dev_mode", cfg.DevMode)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// buildDocstore selects the document store backend from configuration and
// returns it with a cleanup function.
func buildDocstore(ctx context.Context, cfg config.Config) (docstore.Store, func(), error) {
	switch cfg.StoreBackend {
	case "redis":
		client, err := platformredis.New(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		if client == nil {
			return nil, nil, errors.New("redis backend selected but OAPHUB_REDIS_URL is empty")
		}
		return docstore.NewRedisStore(client.Client), func() { _ = client.Close() }, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		store := docstore.NewPostgres(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil

	default:
		return docstore.NewMemoryStore(), func() {}, nil
	}
}

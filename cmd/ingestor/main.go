package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Joboufra/v16-tracker-ingestor/internal/adapter/elastic"
	"github.com/Joboufra/v16-tracker-ingestor/internal/adapter/etraffic"
	httpadapter "github.com/Joboufra/v16-tracker-ingestor/internal/adapter/http"
	kafkaadapter "github.com/Joboufra/v16-tracker-ingestor/internal/adapter/kafka"
	"github.com/Joboufra/v16-tracker-ingestor/internal/config"
	"github.com/Joboufra/v16-tracker-ingestor/internal/domain"
	"github.com/Joboufra/v16-tracker-ingestor/internal/observability"
	"github.com/Joboufra/v16-tracker-ingestor/internal/poller"
	"github.com/Joboufra/v16-tracker-ingestor/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, falling back to UTC", "timezone", cfg.Timezone)
		location = time.UTC
	}

	st := store.New(cfg.StaleAfter, cfg.Retention, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var syncers []poller.Syncer

	// Durable backend is optional; a failed connection degrades to
	// memory-only operation instead of preventing startup.
	var esClient *elastic.Client
	if cfg.ElasticEnabled() {
		esClient, err = elastic.New(ctx, cfg, logger)
		if err != nil {
			logger.Error("elasticsearch unavailable, continuing without persistence", "error", err)
		} else {
			restored, err := esClient.Bootstrap(ctx, clock.Now().UTC())
			if err != nil {
				logger.Warn("bootstrap from elasticsearch failed", "error", err)
			} else {
				st.BulkLoad(restored)
			}
			syncers = append(syncers, esClient)
		}
	} else {
		logger.Info("elasticsearch disabled (ELASTICSEARCH_URL empty)")
	}

	var feed *kafkaadapter.Writer
	if cfg.KafkaEnabled() {
		feed = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		syncers = append(syncers, feed)
		logger.Info("kafka change feed enabled", "topic", cfg.KafkaTopic)
	}

	fetcher := etraffic.NewClient(cfg, logger)

	p := poller.New(fetcher, st, syncers, poller.Config{
		Interval:    cfg.PollInterval,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
		XORKey:      cfg.XORKey,
		Targets: domain.Targets{
			Source: cfg.TargetSource,
			Kind:   cfg.TargetType,
			Cause:  cfg.TargetCause,
		},
		Timezone: location,
	}, logger, metrics, clock)

	// With polling disabled no cycle ever completes, so readiness cannot
	// gate on the poller.
	var ready httpadapter.ReadinessChecker = p
	if !cfg.PollingEnabled {
		ready = httpadapter.AlwaysReady()
	}

	srv := httpadapter.NewServer(httpadapter.Options{
		Addr:           cfg.HTTPAddr,
		Endpoint:       cfg.Endpoint,
		APIKey:         cfg.APIKey,
		APIKeyHeader:   cfg.APIKeyHeader,
		APIKeyRequired: cfg.APIKeyRequired,
		IncludeRaw:     cfg.IncludeRaw,
	}, st, ready, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if cfg.PollingEnabled {
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("poller error", "error", err)
			}
		}()
	} else {
		logger.Info("poller not started (POLLING_ENABLED=false)")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	fetcher.Close()
	if feed != nil {
		if err := feed.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if esClient != nil {
		esClient.Close()
	}

	logger.Info("shutdown complete")
}

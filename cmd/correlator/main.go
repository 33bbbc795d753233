package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platformbuilds/alertcorr/internal/api"
	"github.com/platformbuilds/alertcorr/internal/cache"
	"github.com/platformbuilds/alertcorr/internal/config"
	"github.com/platformbuilds/alertcorr/internal/history"
	"github.com/platformbuilds/alertcorr/internal/metrics"
	"github.com/platformbuilds/alertcorr/internal/pipeline"
	"github.com/platformbuilds/alertcorr/internal/threshold"
	"github.com/platformbuilds/alertcorr/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting alertcorr", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var valkeyCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	historyStore := history.NewHTTPStore(cfg.History.Endpoint, cfg.History.APIKey, cfg.History.Timeout, cacheProvider, cfg.Cache.SignatureTTL)

	rules, err := threshold.LoadRules(cfg.Rules.Path)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("loaded threshold rule pack", slog.Int("rules", len(rules)), slog.String("path", cfg.Rules.Path))

	recorder := history.NewRecorder(cfg.History.BufferSize)
	driver := pipeline.New(cfg.Pipeline, logger, rules, recorder, historyStore)

	server, err := api.NewServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	if err := driver.Start(ctx); err != nil {
		logger.Error("failed to start pipeline driver", slog.Any("error", err))
		stop()
	} else {
		server.SetServing(true)
	}

	go watchRecentSignatures(ctx, logger, driver, historyStore)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	server.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := driver.Stop(shutdownCtx); err != nil {
		logger.Warn("pipeline driver did not stop cleanly", slog.Any("error", err))
	}
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("alertcorr stopped")
}

// watchRecentSignatures periodically cross-checks live situations against
// previously mined failure signatures, entirely off the tick critical path.
// It is purely diagnostic: nothing it finds feeds back into scoring.
func watchRecentSignatures(ctx context.Context, logger *slog.Logger, driver *pipeline.Driver, store *history.HTTPStore) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("pipeline tick latency",
				slog.Duration("p50", driver.TickLatency(50)),
				slog.Duration("p99", driver.TickLatency(99)),
			)
			for _, s := range driver.CurrentSituations() {
				entityKey := s.PrimaryCause.EntityKey
				if entityKey == "" {
					continue
				}
				sigs, err := store.RecentSignatures(ctx, entityKey, 5)
				if err != nil {
					logger.Debug("recent signature lookup failed", slog.String("entity", entityKey), slog.Any("error", err))
					continue
				}
				if len(sigs) > 0 {
					logger.Info("situation matches a previously mined signature",
						slog.String("situation_id", s.ID),
						slog.String("entity", entityKey),
						slog.Int("recurrence_count", sigs[0].Count),
					)
				}
			}
		}
	}
}

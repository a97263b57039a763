// Command cixd runs the matching core: it opens the trade logs, starts one
// matching thread per configured thread and serves Prometheus metrics until
// it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	match "github.com/0x5487/matching-core"
	"github.com/0x5487/matching-core/config"
	"github.com/0x5487/matching-core/feed"
	"github.com/0x5487/matching-core/reconcile"
	"github.com/0x5487/matching-core/tradelog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

func newLogger(cfg config.LogConfig) (*slog.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var zapConfig zap.Config
	if cfg.Production {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, nil, err
	}
	return slog.New(zapslog.NewHandler(zapLogger.Core())), zapLogger.Sync, nil
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "cixd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, syncLogger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = syncLogger() }()

	match.SetLogger(logger)
	tradelog.SetLogger(logger)
	feed.SetLogger(logger)

	marketConfig, err := cfg.MarketConfig()
	if err != nil {
		return err
	}

	var opts []match.MarketOption

	if cfg.Reconcile.Path != "" {
		store, err := reconcile.Open(cfg.Reconcile.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close reconcile store", "error", err)
			}
		}()
		opts = append(opts, match.WithAnomalyStore(store))
		logger.Info("reconcile store opened", "path", cfg.Reconcile.Path)
	}

	var forwarder *feed.Forwarder
	if cfg.Feed.Enabled {
		publisher := feed.NewKafkaPublisher(cfg.Feed.Brokers, cfg.Feed.Topic)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("failed to close kafka publisher", "error", err)
			}
		}()
		forwarder = feed.NewForwarder(publisher, cfg.Feed.Capacity, feed.WithMaxBatch(cfg.Feed.MaxBatch))
		forwarder.Start()
		opts = append(opts, match.WithExecutionSink(forwarder))
		logger.Info("execution feed enabled", "brokers", cfg.Feed.Brokers, "topic", cfg.Feed.Topic)
	}

	market, err := match.NewMarket(marketConfig, opts...)
	if err != nil {
		return err
	}
	market.Start()

	logger.Info("matching core started",
		"version", match.EngineVersion,
		"threads", marketConfig.Threads,
		"symbols", cfg.Market.Symbols,
		"tradelog", marketConfig.TradeLogPath)

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if err := market.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if forwarder != nil {
		if err := forwarder.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

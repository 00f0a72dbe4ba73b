// Command server runs the event indexing HTTP service: it syncs ledger
// partitions from the archive into the in-memory store and serves the
// cursor-paginated query API in front of it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/leighmcculloch/stellar-events-api/internal/api"
	"github.com/leighmcculloch/stellar-events-api/internal/archive"
	"github.com/leighmcculloch/stellar-events-api/internal/config"
	"github.com/leighmcculloch/stellar-events-api/internal/horizon"
	"github.com/leighmcculloch/stellar-events-api/internal/ingest"
	"github.com/leighmcculloch/stellar-events-api/internal/metrics"
	"github.com/leighmcculloch/stellar-events-api/internal/store"
)

// networkPassphrase selects the decoder's XDR network id. Only pubnet is
// wired up; a --network flag would be the natural extension point.
const networkPassphrase = "Public Global Stellar Network ; September 2015"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	st := store.New()
	fetcher := archive.NewClient(cfg.MetaURL)
	ledgerHead := horizon.NewClient(horizon.DefaultURL)

	ctrl := ingest.New(ingest.Config{
		NetworkPassphrase: networkPassphrase,
		StartLedger:       cfg.StartLedger,
		ParallelFetches:   cfg.ParallelFetches,
		TTL:               cfg.CacheTTL,
	}, fetcher, st, m, logger, ledgerHead.LatestLedger)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := ctrl.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("sync loop exited", zap.Error(err))
		}
	}()
	go ctrl.RunSweep(ctx)

	srv := api.NewServer(st, ctrl, m, metrics.Handler(reg), logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

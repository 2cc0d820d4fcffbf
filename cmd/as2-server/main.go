// Package main is the entry point for the AS2 server.
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

	"github.com/sirosfoundation/go-as2/internal/config"
	"github.com/sirosfoundation/go-as2/internal/keystore"
	"github.com/sirosfoundation/go-as2/internal/server"
	"github.com/sirosfoundation/go-as2/internal/storage"
	"github.com/sirosfoundation/go-as2/internal/storage/memory"
	"github.com/sirosfoundation/go-as2/internal/storage/mongodb"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Logging.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("as2-server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	station, err := keystore.LoadIdentity(&cfg.Identity)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	info := keystore.Describe(station.Certificate)
	logger.Info("loaded identity",
		"name", station.Name,
		"subject", info.CertificateSubject,
		"algorithm", info.Algorithm,
		"key_size", info.KeySize,
		"not_after", info.NotAfter,
	)

	partners, err := keystore.LoadRegistry(cfg.Partners)
	if err != nil {
		return fmt.Errorf("loading partners: %w", err)
	}
	logger.Info("loaded partners", "partners", partners.Names())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, &cfg.Storage, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, station, partners, store, logger)
	if err != nil {
		_ = store.Close(context.Background())
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("received signal, initiating shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	if !cfg.MongoDB.Enabled() {
		logger.Warn("no MongoDB configured, message records are kept in memory")
		return memory.NewStore(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := mongodb.NewStore(connectCtx, &mongodb.Config{
		URI:            cfg.MongoDB.URI,
		Database:       cfg.MongoDB.Database,
		GridFSBucket:   cfg.MongoDB.GridFS.BucketName,
		ChunkSizeBytes: int32(cfg.MongoDB.GridFS.ChunkSizeBytes),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	logger.Info("connected to MongoDB", "database", cfg.MongoDB.Database)
	return store, nil
}

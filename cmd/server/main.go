// @title           Netdisk API
// @version         1.0
// @description     Quota-aware personal file storage with public share links.
// @host            localhost:8080
// @schemes         http https
// @BasePath        /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	_ "netdisk/docs"
	"netdisk/internal/api"
	"netdisk/internal/config"
	"netdisk/internal/database"
	"netdisk/internal/disk"
	"netdisk/internal/logging"
	"netdisk/internal/metrics"
	"netdisk/internal/storage"
	"netdisk/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWT.Secret == "" {
		return errors.New("jwt.secret must be set")
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.Source)
	if err != nil {
		return fmt.Errorf("parse db source: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = cfg.DB.MaxConns
	}
	dbpool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbpool.Close()

	if err := dbpool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	logger.Info().Msg("connected to database")

	objects, localFiles, err := openObjectStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("object store ready")

	wsHub := websocket.NewHub(logger)
	go wsHub.Run(ctx)

	store := database.NewStore(dbpool)
	diskService, err := disk.NewService(store, objects)
	if err != nil {
		return fmt.Errorf("create disk service: %w", err)
	}
	diskService.SetLogger(logger)
	diskService.SetPublisher(wsHub)
	diskService.SetKeyPrefix(cfg.Storage.KeyPrefix)

	server := api.NewServer(cfg, store, diskService, wsHub, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(localFiles),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// openObjectStore returns the configured object store and, for the local
// driver, a handler serving stored files.
func openObjectStore(ctx context.Context, cfg config.StorageConfig) (disk.ObjectStore, http.Handler, error) {
	switch cfg.Driver {
	case "", "local":
		local, err := storage.NewLocalStorage(cfg.Path, cfg.PublicURL)
		if err != nil {
			return nil, nil, fmt.Errorf("init local storage: %w", err)
		}
		return local, local.Handler(), nil
	case "s3":
		s3, err := storage.NewS3Storage(ctx, storage.S3Options{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PublicURL: cfg.PublicURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init s3 storage: %w", err)
		}
		return s3, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

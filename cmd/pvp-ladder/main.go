package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	appcfg "github.com/park285/pvp-ladder/internal/config"
	"github.com/park285/pvp-ladder/internal/httpapi"
	"github.com/park285/pvp-ladder/internal/metrics"
	"github.com/park285/pvp-ladder/internal/msgcat"
	"github.com/park285/pvp-ladder/internal/obslog"
	"github.com/park285/pvp-ladder/internal/pvp"
	"github.com/park285/pvp-ladder/internal/scheduler"
	"github.com/park285/pvp-ladder/internal/service/ladder"
	"github.com/park285/pvp-ladder/internal/snapshot"
	"github.com/park285/pvp-ladder/internal/storage"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	skipImport := pflag.Bool("no-import", false, "do not import players.json/bans.json at startup")
	pflag.Parse()

	cfg, err := appcfg.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := obslog.Init(obslog.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		ToConsole: cfg.Log.ToConsole,
		ToFile:    cfg.Log.ToFile,
		File:      cfg.Log.File,
		Caller:    cfg.Log.Caller,
	})
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, *skipImport, logger); err != nil {
		logger.Fatal("pvp_ladder_exit", zap.Error(err))
	}
}

func run(cfg *appcfg.AppConfig, skipImport bool, logger *zap.Logger) error {
	ctx := context.Background()

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("storage_open", zap.String("dialect", store.Dialect()))

	sessions, rdb, err := openSessions(ctx, cfg.RedisURL, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	svc, err := ladder.NewService(store, sessions, ladder.Config{
		DuelTimeout:   cfg.DuelTimeout,
		DuelRetention: cfg.DuelRetention,
	}, logger.Named("ladder"))
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(cfg.NodeID, svc)
		svc.AttachMetrics(m)
	}

	snap := snapshot.New(cfg.SnapshotDir, store, logger.Named("snapshot"))
	snap.AttachMetrics(m)
	if !skipImport {
		res, err := snap.Import(ctx)
		if err != nil {
			logger.Warn("snapshot_import_partial", zap.Error(err))
		}
		logger.Info("snapshot_import", zap.Int("players", res.Players), zap.Int("bans", res.Bans), zap.Int("skipped", res.Skipped))
	}
	// Export on every exit path of run, panics included.
	defer func() {
		exportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		snap.ExportBestEffort(exportCtx)
		if r := recover(); r != nil {
			logger.Error("pvp_ladder_panic", zap.Any("panic", r))
			panic(r)
		}
	}()

	sched, err := scheduler.Start(scheduler.Config{
		SweepInterval:    cfg.DuelSweepInterval,
		SnapshotInterval: cfg.SnapshotInterval,
	}, svc, snap, logger.Named("scheduler"))
	if err != nil {
		return err
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			logger.Warn("scheduler_shutdown_error", zap.Error(err))
		}
	}()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return err
	}
	api := httpapi.New(svc, httpapi.Options{
		AdminToken: cfg.AdminToken,
		Catalog:    catalog,
		Metrics:    m,
		Logger:     logger.Named("http"),
	})
	if cfg.AdminToken == "" {
		logger.Warn("admin_disabled", zap.String("reason", "ADMIN_TOKEN not set"))
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- api.ListenAndServe(cfg.HTTPAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return err
		}
		return errors.New("http server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	return nil
}

// openSessions picks the Redis duel store when a URL is configured.
func openSessions(ctx context.Context, redisURL string, logger *zap.Logger) (pvp.Store, *redis.Client, error) {
	if redisURL == "" {
		logger.Info("duel_store", zap.String("kind", "memory"))
		return pvp.NewMemoryStore(), nil, nil
	}
	rdb, err := pvp.OpenRedis(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}
	rs, err := pvp.NewRedisStore(ctx, rdb)
	if err != nil {
		rdb.Close()
		return nil, nil, err
	}
	logger.Info("duel_store", zap.String("kind", "redis"))
	return rs, rdb, nil
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel)
	if cfg.StorageBackend != config.StorageBackendPostgres {
		log.Fatal().Str("storage", cfg.StorageBackend).Msg("slot-worker needs the postgres storage backend")
	}
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("horizon_days", cfg.SlotHorizonDays).
		Dur("pending_hold_ttl", cfg.PendingHoldTTL).
		Msg("slot-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns: int32(cfg.PGMaxConns),
		MinConns: int32(cfg.PGMinConns),
	})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// The worker never books, so it does not contend for slot locks.
	locker := redisclient.NewLocalLocker(redisclient.LockOptions{TTL: cfg.LockTTL})
	svc := scheduling.NewService(
		scheduling.NewPgRepository(pgPool),
		scheduling.NewPgDirectory(pgPool),
		locker,
		cfg,
		scheduling.WithLogger(log),
	)

	runOnce(rootCtx, log, svc, cfg.SlotHorizonDays)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping slot-worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, log, svc, cfg.SlotHorizonDays)
		}
	}
}

func runOnce(ctx context.Context, log zerolog.Logger, svc *scheduling.Service, horizonDays int) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	doctors, err := svc.MaterializeHorizon(runCtx, horizonDays)
	if err != nil {
		log.Error().Err(err).Msg("slot materialisation failed")
	}

	expired, err := svc.ExpireStalePending(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("pending expiry failed")
	}

	log.Info().
		Int("doctors_processed", doctors).
		Int("pending_expired", expired).
		Dur("took", time.Since(start)).
		Msg("slot-worker run complete")
}

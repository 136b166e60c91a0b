package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel)
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageBackend).
		Str("locks", cfg.LockBackend).
		Str("timezone", cfg.ClinicTimezone).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var (
		schedMetrics   *metrics.SchedulingMetrics
		httpMetrics    *metrics.HTTPMetrics
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		schedMetrics = metrics.NewSchedulingMetrics(reg)
		httpMetrics = metrics.NewHTTPMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	routerCfg := api.RouterConfig{
		Logger:         log,
		Metrics:        httpMetrics,
		MetricsHandler: metricsHandler,
		Env:            cfg.Env,
		Version:        version,
	}

	var (
		repo      scheduling.Repository
		directory scheduling.Directory
		pgPool    *pgxpool.Pool
	)
	switch cfg.StorageBackend {
	case config.StorageBackendPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
			MaxConns: int32(cfg.PGMaxConns),
			MinConns: int32(cfg.PGMinConns),
		})
		cancelPg()
		if err != nil {
			log.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pgPool.Close()
		log.Info().Msg("connected to Postgres")

		repo = scheduling.NewPgRepository(pgPool)
		directory = scheduling.NewPgDirectory(pgPool)
		routerCfg.Postgres = pgPool
	default:
		log.Warn().Msg("using in-memory storage; data is lost on restart")
		repo = scheduling.NewMemoryRepository()
		directory = scheduling.NewMemoryDirectory()
	}

	lockOpts := redisclient.LockOptions{
		TTL:  cfg.LockTTL,
		Wait: cfg.LockWait,
		Observe: func(key string, acquired bool, waited time.Duration) {
			schedMetrics.ObserveLockWait(redisclient.KeyScope(key), acquired, waited.Seconds())
		},
	}

	var locker redisclient.Locker
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.ClientOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			LockWait: cfg.LockWait,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		locker = redisclient.NewRedisLocker(rdb, lockOpts)
		routerCfg.Redis = redisPinger(rdb)
	default:
		log.Warn().Msg("using in-process locks; run a single api-server instance")
		locker = redisclient.NewLocalLocker(lockOpts)
	}

	svc := scheduling.NewService(repo, directory, locker, cfg,
		scheduling.WithLogger(log),
		scheduling.WithMetrics(schedMetrics),
	)
	routerCfg.Service = svc

	if mem, ok := directory.(*scheduling.MemoryDirectory); ok {
		seedDemo(rootCtx, log, svc, mem)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	log.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
	log.Info().Msg("api-server stopped")
}

func redisPinger(rdb *redis.Client) api.RedisPinger {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// seedDemo gives the in-memory backend one doctor with a weekday template and
// a few patients so the API is usable without Postgres.
func seedDemo(ctx context.Context, log zerolog.Logger, svc *scheduling.Service, dir *scheduling.MemoryDirectory) {
	doctorID := uuid.New()
	dir.PutDoctor(doctorID, true)

	for day := time.Monday; day <= time.Friday; day++ {
		_, err := svc.SetTemplate(ctx, scheduling.SystemCaller, scheduling.AvailabilityTemplate{
			DoctorID:            doctorID,
			DayOfWeek:           day,
			StartTime:           scheduling.NewClockTime(9, 0),
			EndTime:             scheduling.NewClockTime(17, 0),
			SlotDurationMinutes: 30,
			CapacityPerSlot:     1,
		})
		if err != nil {
			log.Error().Err(err).Str("day", day.String()).Msg("seed demo template")
			return
		}
	}

	patients := zerolog.Arr()
	for i := 0; i < 5; i++ {
		id := uuid.New()
		dir.PutPatient(id)
		patients.Str(id.String())
	}

	log.Info().
		Str("doctor_id", doctorID.String()).
		Array("patient_ids", patients).
		Msg("seeded in-memory demo data")
}

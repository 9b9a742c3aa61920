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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dan22333/theravillage/internal/api"
	"github.com/dan22333/theravillage/internal/auth"
	"github.com/dan22333/theravillage/internal/config"
	"github.com/dan22333/theravillage/internal/db"
	"github.com/dan22333/theravillage/internal/logging"
	"github.com/dan22333/theravillage/internal/metrics"
	redisclient "github.com/dan22333/theravillage/internal/redis"
	"github.com/dan22333/theravillage/internal/scheduling"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("backend", cfg.StoreBackend),
		zap.String("auth", cfg.AuthMode),
		zap.String("timezone", cfg.AppTimezone),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := map[string]api.Pinger{}
	var (
		repo   scheduling.Repository
		locker redisclient.Locker
	)

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := connectPostgres(rootCtx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info("connected to Postgres")
		deps["postgres"] = api.PingFunc(pool.Ping)
		repo = scheduling.NewPgRepository(pool)

		rdb, err := redisclient.Connect(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("redis connection error: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
		deps["redis"] = redisPinger(rdb)
		locker = redisclient.NewRedisTherapistLocker(rdb, cfg.LockTTL, cfg.LockWait)
	default:
		logger.Warn("using the in-memory store; data is lost on restart")
		mem := scheduling.NewMemoryRepository()
		seedMemory(mem, cfg, logger)
		repo = mem
		locker = redisclient.NewLocalLocker(cfg.LockWait)
	}

	svc := scheduling.NewService(repo, locker, cfg.Location(),
		scheduling.WithLogger(logger.Named("scheduling")),
		scheduling.WithMetrics(metrics.NewSchedulingMetrics(reg)),
	)

	verifier, err := newVerifier(rootCtx, cfg, svc)
	if err != nil {
		return err
	}

	handler := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Verifier:       verifier,
		Logger:         logger.Named("http"),
		Metrics:        metrics.NewHTTPMetrics(reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Dependencies:   deps,
		Backend:        cfg.StoreBackend,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-rootCtx.Done():
	}

	logger.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func connectPostgres(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.AutoMigrate {
		m, err := db.NewMigrator(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		err = m.Up()
		_ = m.Close()
		if err != nil {
			return nil, err
		}
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConns})
	if err != nil {
		return nil, fmt.Errorf("postgres connection error: %w", err)
	}
	return pool, nil
}

// seedMemory adds one assigned therapist/client pair so a memory-backed
// server is usable straight away. Tokens are logged only outside prod.
func seedMemory(repo *scheduling.MemoryRepository, cfg config.Config, logger *zap.Logger) {
	therapist := scheduling.User{ID: uuid.New(), Name: "Demo Therapist", Role: scheduling.RoleTherapist}
	client := scheduling.User{ID: uuid.New(), Name: "Demo Client", Role: scheduling.RoleClient}
	repo.AddUser(therapist)
	repo.AddUser(client)
	repo.Assign(therapist.ID, client.ID)

	fields := []zap.Field{
		zap.String("therapist_id", therapist.ID.String()),
		zap.String("client_id", client.ID.String()),
	}
	if cfg.AuthMode == config.AuthJWT && cfg.Env != "prod" {
		therapistToken, err := auth.IssueToken(cfg.JWTSecret, therapist.ID, auth.RoleTherapist, 24*time.Hour)
		if err != nil {
			logger.Warn("issue demo therapist token", zap.Error(err))
			return
		}
		clientToken, err := auth.IssueToken(cfg.JWTSecret, client.ID, auth.RoleClient, 24*time.Hour)
		if err != nil {
			logger.Warn("issue demo client token", zap.Error(err))
			return
		}
		fields = append(fields, zap.String("therapist_token", therapistToken), zap.String("client_token", clientToken))
	}
	logger.Info("seeded demo users", fields...)
}

func redisPinger(rdb *redis.Client) api.Pinger {
	return api.PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
}

func newVerifier(ctx context.Context, cfg config.Config, svc *scheduling.Service) (auth.Verifier, error) {
	if cfg.AuthMode != config.AuthFirebase {
		return auth.NewJWTVerifier(cfg.JWTSecret), nil
	}
	lookup := func(ctx context.Context, uid string) (auth.Identity, error) {
		u, err := svc.UserByFirebaseUID(ctx, uid)
		if err != nil {
			return auth.Identity{}, err
		}
		return auth.Identity{UserID: u.ID, Role: string(u.Role)}, nil
	}
	v, err := auth.NewFirebaseVerifier(ctx, cfg.FirebaseCredentialsFile, lookup)
	if err != nil {
		return nil, err
	}
	return v, nil
}

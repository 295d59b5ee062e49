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

	"mrv/analysis"
	"mrv/auth"
	"mrv/blob"
	"mrv/config"
	"mrv/database"
	"mrv/handlers"
	"mrv/lifecycle"
	"mrv/logger"
	"mrv/middleware"
	"mrv/registry"
	"mrv/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// backend is the storage the process runs against.
type backend struct {
	projects handlers.ProjectStore
	records  registry.Store
	tx       lifecycle.TxRunner
	health   handlers.HealthChecker
	close    func()
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	if cfg.DevSigningKey() {
		log.Warn("using the development JWT signing key; set JWT_SIGNING_KEY in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create context with timeout for initial connections
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := openBackend(startCtx, cfg)
	if err != nil {
		log.Error("failed to open storage", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer store.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []lifecycle.Option{
		lifecycle.WithReverifyPolicy(cfg.ReverifyPolicy),
		lifecycle.WithMetrics(lifecycle.NewMetrics(reg)),
		lifecycle.WithLogger(log),
	}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(redisOpts)
		defer client.Close()
		if err := client.Ping(startCtx).Err(); err != nil {
			log.Error("failed to reach redis", "error", err)
			os.Exit(1)
		}
		opts = append(opts, lifecycle.WithLocker(lifecycle.NewRedisLocker(client, lifecycle.WithLockLogger(log))))
		log.Info("using redis project locks")
	}
	svc := lifecycle.New(store.tx, opts...)

	blobs, err := blob.Open(startCtx, cfg.Blob)
	if err != nil {
		log.Error("failed to open blob store", "driver", cfg.Blob.Driver, "error", err)
		os.Exit(1)
	}

	deps := handlers.Deps{
		Projects:      store.projects,
		Registry:      registry.New(store.records),
		Lifecycle:     svc,
		Auditor:       lifecycle.NewAuditor(store.projects, store.records),
		Blobs:         blobs,
		Tokens:        auth.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer),
		Health:        store.health,
		Logger:        log,
		StorageDriver: cfg.StorageDriver,
	}
	if client := analysis.NewClient(cfg.AI); client.Enabled() {
		deps.Analyzer = client
	} else {
		log.Info("AI analysis disabled; set AI_API_KEY to enable reports")
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(log))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	handlers.Register(r, deps)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", cfg.Addr, "storage", cfg.StorageDriver, "blob", blobs.Driver())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

func openBackend(ctx context.Context, cfg config.Server) (*backend, error) {
	if cfg.StorageDriver == config.StoragePostgres {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &backend{
			projects: db.Projects(),
			records:  db.Registry(),
			tx:       db,
			health:   db,
			close:    db.Close,
		}, nil
	}

	slog.Warn("using in-memory storage; data is lost on restart")
	mem := storage.NewMemory()
	return &backend{
		projects: mem,
		records:  mem,
		tx:       mem,
		close:    func() {},
	}, nil
}

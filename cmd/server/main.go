package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nocheat/detect-api/internal/config"
	"github.com/nocheat/detect-api/internal/engine"
	"github.com/nocheat/detect-api/internal/features"
	"github.com/nocheat/detect-api/internal/forest"
	"github.com/nocheat/detect-api/internal/handlers"
	"github.com/nocheat/detect-api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scoring engine: load the model from disk, synthesizing a default one
	// on first run.
	eng := engine.New(
		features.NewFPSExtractor(),
		engine.DefaultRules(engine.RuleConfig{
			AccuracyThreshold:      cfg.AccuracyThreshold,
			HeadshotRatioThreshold: cfg.HeadshotRatioThreshold,
			AimSnapIntervalMS:      cfg.AimSnapIntervalMS,
		}),
		logger,
	)
	err = eng.Init(ctx, cfg.ModelPath, forest.TrainOptions{
		Trees:       cfg.TrainTrees,
		MaxDepth:    cfg.TrainMaxDepth,
		MinLeafSize: cfg.TrainMinLeafSize,
		Seed:        cfg.TrainSeed,
	})
	if err != nil {
		sugar.Fatalw("Failed to initialize model", "error", err, "path", cfg.ModelPath)
	}
	sugar.Infow("Analysis engine ready", "engine", eng.Describe())

	// Optional result sink. Each backend is independent; configure only the
	// ones you run.
	var sink handlers.ResultQueue
	var pool *worker.Pool
	if cfg.SinkEnabled() {
		poolCfg := worker.PoolConfig{
			WorkerCount:           cfg.WorkerCount,
			QueueSize:             cfg.QueueSize,
			BatchSize:             cfg.BatchSize,
			FlushInterval:         cfg.FlushInterval,
			SuspectScoreThreshold: cfg.SuspectScoreThreshold,
			Logger:                logger,
		}

		if cfg.ClickHouseURL != "" {
			chOpts, err := clickhouse.ParseDSN(cfg.ClickHouseURL)
			if err != nil {
				sugar.Fatalw("Invalid ClickHouse URL", "error", err)
			}
			chConn, err := clickhouse.Open(chOpts)
			if err != nil {
				sugar.Fatalw("Failed to connect to ClickHouse", "error", err)
			}
			defer chConn.Close()
			if err := chConn.Ping(ctx); err != nil {
				sugar.Warnw("ClickHouse ping failed, continuing anyway", "error", err)
			}
			poolCfg.ClickHouse = chConn
		}

		if cfg.RedisURL != "" {
			redisOpts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				sugar.Fatalw("Invalid Redis URL", "error", err)
			}
			redisClient := redis.NewClient(redisOpts)
			defer redisClient.Close()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				sugar.Warnw("Redis ping failed, continuing anyway", "error", err)
			}
			poolCfg.Redis = redisClient
		}

		if cfg.PostgresURL != "" {
			pg, err := pgxpool.New(ctx, cfg.PostgresURL)
			if err != nil {
				sugar.Fatalw("Failed to connect to Postgres", "error", err)
			}
			defer pg.Close()
			poolCfg.Postgres = pg
		}

		pool = worker.NewPool(poolCfg)
		// Background context: shutdown is driven by Stop so queued results
		// drain instead of being dropped on the first signal.
		pool.Start(context.Background())
		sink = pool
	} else {
		sugar.Info("No storage backends configured, result sink disabled")
	}

	h := handlers.New(handlers.Config{
		Engine:    eng,
		Sink:      sink,
		ModelPath: cfg.ModelPath,
		Logger:    logger,
	})

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyze", h.Analyze)
		r.Post("/model/reload", h.ReloadModel)
		r.Get("/model", h.ModelInfo)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infow("Server listening", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("Server failed", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("Server shutdown failed", "error", err)
	}

	if pool != nil {
		pool.Stop()
	}

	sugar.Info("Shutdown complete")
}

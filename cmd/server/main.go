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

	log "github.com/sirupsen/logrus"

	_ "sharp-job-service/docs"
	"sharp-job-service/internal/artifact"
	"sharp-job-service/internal/cache"
	"sharp-job-service/internal/collaborator"
	"sharp-job-service/internal/config"
	"sharp-job-service/internal/repository/postgresql"
	"sharp-job-service/internal/service"
	httptransport "sharp-job-service/internal/transport/http"
	"sharp-job-service/internal/usage"
)

// @title Sharp job service API
// @version 1.0
// @description Image to 3D Gaussian splat generation: uploads, job polling, artifact download, mesh conversion and usage.
// @BasePath /
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	initLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := postgresql.RunMigrations(cfg.Database.DSN); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	pool, err := postgresql.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	rdb, err := cache.NewClient(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("redis url: %v", err)
	}
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	store, err := artifact.NewOSStore(cfg.Artifacts.Root)
	if err != nil {
		log.Fatalf("artifact store: %v", err)
	}

	jobRepo := postgresql.NewJobRepository(pool)
	uploadRepo := postgresql.NewUploadRepository(pool)
	queue := service.NewRedisQueue(rdb, cfg.Redis.QueueKey, cfg.Redis.ProcessingKey)
	completions := usage.NewRedisLog(rdb, cfg.Redis.UsageKey, cfg.Usage.CompletionLogCap)
	counter := cache.NewRedisCache(rdb)
	reader := artifact.NewReader(store, cfg.Download.Attempts, cfg.Download.Backoff)

	jobSvc := service.NewJobService(jobRepo, uploadRepo, queue,
		service.NewEstimator(cfg.Queue.MaxConcurrent, cfg.Queue.AverageJobSeconds))
	uploadSvc := service.NewUploadService(uploadRepo, store, cfg.Upload.MaxBytes)
	meshSvc := service.NewMeshService(jobRepo, reader, store, collaborator.NewMeshCLI(cfg.Mesh))

	h := httptransport.NewHandler(httptransport.Deps{
		Jobs:      jobSvc,
		Uploads:   uploadSvc,
		Artifacts: reader,
		Mesh:      meshSvc,
		Usage:     usage.NewAggregator(completions),
		Checks: []httptransport.HealthCheck{
			{Name: "database", Ping: uploadRepo.Ping},
			{Name: "redis", Ping: counter.Ping},
		},
		AverageJobSeconds: cfg.Queue.AverageJobSeconds,
		GPUCostPerHour:    cfg.Usage.GPUCostPerHour,
		MaxUploadBytes:    cfg.Upload.MaxBytes,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: httptransport.Routes(h, httptransport.RouterConfig{
			AllowedOrigins:     cfg.HTTP.AllowedOrigins,
			RateLimiter:        counter,
			RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{
			"addr":           addr,
			"max_concurrent": cfg.Queue.MaxConcurrent,
			"artifact_root":  cfg.Artifacts.Root,
		}).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server forced shutdown: %v", err)
	}
	log.Info("server stopped")
}

func initLogger(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Logger.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"faceattend/internal/cache"
	"faceattend/internal/cloudinary"
	"faceattend/internal/config"
	"faceattend/internal/faceclient"
	"faceattend/internal/logger"
	"faceattend/internal/metrics"
	"faceattend/internal/profile"
	"faceattend/internal/queue"
	"faceattend/internal/store"
	"faceattend/internal/worker"
)

// Worker consumes enrollment jobs, extracts faces from the uploaded image and
// replaces the user's profile.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		log.Error(ctx, "memory queue is process-local; the api consumes it in-process, run the worker with QUEUE_BACKEND=redis")
		os.Exit(1)
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error(ctx, "db connect failed", logger.Err(err))
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		log.Error(ctx, "redis setup failed", logger.Err(err))
		os.Exit(1)
	}
	defer redisClient.Close()
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)

	// A worker-local memory cache would never be read; only a shared cache
	// needs invalidating from here.
	opts := []profile.Option{profile.WithLogger(log)}
	if cfg.CacheBackend == "redis" {
		opts = append(opts, profile.WithCache(cache.NewRedis(redisClient.Client, "", cfg.CacheClearInterval)))
	}
	if cfg.CloudinaryConfigured() {
		cdn, err := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		if err != nil {
			log.Error(ctx, "cloudinary setup failed", logger.Err(err))
			os.Exit(1)
		}
		opts = append(opts, profile.WithImageStore(cdn))
	}
	profiles := profile.NewService(profile.NewRepository(db.Client), opts...)

	faces := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if !cfg.FaceSkip {
		if err := faces.Health(ctx); err != nil {
			log.Warn(ctx, "face service not available, jobs will fail until it is", logger.Err(err))
		} else {
			log.Info(ctx, "face service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Error(ctx, "queue consume init failed", logger.Err(err))
		os.Exit(1)
	}

	c := &worker.Consumer{
		Profiles:  profiles,
		Extractor: faces,
		Metrics:   metrics.New(prometheus.DefaultRegisterer),
		Log:       log,
	}
	log.Info(ctx, "worker started, waiting for messages", logger.String("queue", cfg.QueueKey))
	c.Run(ctx, messages)
	log.Info(context.Background(), "worker stopped")
}

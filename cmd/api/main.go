package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/cache"
	"faceattend/internal/checkin"
	"faceattend/internal/cloudinary"
	"faceattend/internal/config"
	"faceattend/internal/face"
	"faceattend/internal/faceclient"
	"faceattend/internal/handler"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/logger"
	"faceattend/internal/metrics"
	"faceattend/internal/profile"
	"faceattend/internal/queue"
	"faceattend/internal/store"
	"faceattend/internal/tempimage"
	"faceattend/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must(cfg.LogLevel, cfg.LogFormat)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Error(context.Background(), "http server failed", logger.Err(err))
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()
	if cfg.Migrate {
		if err := store.Migrate(ctx, db.Client); err != nil {
			return err
		}
		log.Info(ctx, "migrations applied")
	}

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	descriptors, err := newCache(ctx, cfg, redisClient)
	if err != nil {
		return err
	}

	scorer, err := face.NewScorer(cfg.Strategy(), cfg.FaceConfig())
	if err != nil {
		return err
	}
	policy := face.NewPolicy(scorer, cfg.MatchMinConfidence)

	rec := metrics.New(prometheus.DefaultRegisterer)

	ledger := attendance.NewService(attendance.NewRepository(db.Client, loc), attendance.WithLocation(loc))

	profileOpts := []profile.Option{profile.WithCache(descriptors), profile.WithLogger(log)}
	var images handler.Images
	if cfg.CloudinaryConfigured() {
		cdn, err := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		if err != nil {
			return err
		}
		images = cdn
		profileOpts = append(profileOpts, profile.WithImageStore(cdn))
		log.Info(ctx, "cloudinary configured", logger.String("cloud", cfg.CloudinaryCloudName))
	} else {
		log.Warn(ctx, "cloudinary not configured, image enrollment disabled")
	}
	profiles := profile.NewService(profile.NewRepository(db.Client), profileOpts...)

	faces := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if cfg.FaceSkip {
		log.Warn(ctx, "face_skip is on: every image yields the same mock face and any capture matches")
	}
	if mem, ok := q.(*queue.InMemory); ok {
		msgs, err := mem.Consume(ctx)
		if err != nil {
			return err
		}
		c := &worker.Consumer{Profiles: profiles, Extractor: faces, Metrics: rec, Log: log}
		go c.Run(ctx, msgs)
		log.Info(ctx, "enroll jobs consumed in-process")
	}

	orch := checkin.New(profiles, faces, policy, ledger, tempimage.NewFactory(cfg.TempDir),
		checkin.WithCache(descriptors),
		checkin.WithMetrics(rec),
		checkin.WithLogger(log),
	)

	h := &handler.Handler{
		Marker:   orch,
		Records:  ledger,
		Profiles: profiles,
		Images:   images,
		Queue:    q,
		Health: map[string]handler.HealthCheck{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
		Metrics: rec,
		Log:     log,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	h.Register(r, auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer), limiter.GinMiddleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting server", logger.String("addr", srv.Addr), logger.String("scorer", string(policy.Strategy())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info(context.Background(), "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info(shutdownCtx, "server exited")
	return nil
}

// newCache picks the descriptor cache backend. The memory cache clears itself
// on cfg.CacheClearInterval until ctx ends.
func newCache(ctx context.Context, cfg config.App, redisClient *store.Redis) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "memory":
		m := cache.NewMemory(cache.WithInterval(cfg.CacheClearInterval))
		go m.Run(ctx)
		return m, nil
	case "redis":
		return cache.NewRedis(redisClient.Client, "", cfg.CacheClearInterval), nil
	case "none":
		return cache.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.CacheBackend)
	}
}

// corsMiddleware allows the comma-separated origins, or any origin for "*".
func corsMiddleware(origins string) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        24 * time.Hour,
	}
	if strings.TrimSpace(origins) == "*" {
		c.AllowAllOrigins = true
	} else {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowOrigins = append(c.AllowOrigins, o)
			}
		}
		c.AllowCredentials = true
	}
	return cors.New(c)
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

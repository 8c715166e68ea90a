// Package main runs the matchmaking HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campuslink/matchmaker/config"
	"github.com/campuslink/matchmaker/internal/auth"
	"github.com/campuslink/matchmaker/internal/metrics"
	"github.com/campuslink/matchmaker/internal/middleware"
	"github.com/campuslink/matchmaker/internal/payments"
	"github.com/campuslink/matchmaker/internal/presence"
	"github.com/campuslink/matchmaker/internal/profiles"
	"github.com/campuslink/matchmaker/internal/realtime"
	"github.com/campuslink/matchmaker/internal/worker"
	"github.com/campuslink/matchmaker/pkg/database"
	"github.com/campuslink/matchmaker/pkg/queue"
	"github.com/campuslink/matchmaker/pkg/redis"
	"github.com/campuslink/matchmaker/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	profileRepo := profiles.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub)
	signaling := realtime.NewSignaling(cfg.WebRTC.ICEUrls)

	coord := presence.NewCoordinator(presence.Config{
		FreeTrials:    cfg.Matchmaker.FreeTrialGrant,
		StatsInterval: cfg.Matchmaker.StatsInterval,
	}, presence.Dependencies{
		Store:     profileRepo,
		Watcher:   redisPubSub,
		Recorder:  jobQueue,
		Publisher: hub,
		Metrics:   collector,
		Logger:    logger.Named("presence"),
	})

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	paymentHandler := payments.NewHandler(profileRepo, redisPubSub, logger)
	profileHandler := profiles.NewHandler(profileRepo, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health", "/metrics"))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(metrics.Handler(registry)))
	router.GET("/stats", func(c *gin.Context) {
		stats, err := coord.Stats(c.Request.Context())
		if err != nil {
			response.ServiceUnavailable(c, "matchmaker unavailable")
			return
		}
		response.OK(c, stats)
	})

	admin := router.Group("/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireRole(auth.RoleAdmin))
	{
		admin.GET("/profiles/:stable_id", profileHandler.Get)
		admin.POST("/profiles/:stable_id/tokens", paymentHandler.Credit)
		admin.POST("/seasons/reset", profileHandler.ResetSeason)
	}

	var identity realtime.IdentityVerifier
	if cfg.Matchmaker.RequireIdentityToken {
		identity = jwtService
	}
	router.GET("/ws", realtime.ServeWs(hub, coord, signaling, realtime.Limits{
		EventsPerSec: cfg.Matchmaker.EventsPerSec,
		Burst:        cfg.Matchmaker.EventBurst,
	}, identity, logger.Named("ws")))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	coordDone := make(chan struct{})
	go func() {
		coord.Run(runCtx)
		close(coordDone)
	}()

	workerDone := make(chan struct{})
	if cfg.Worker.InProcess {
		processor := worker.NewStatsProcessor(profileRepo, jobQueue, logger.Named("worker"))
		go func() {
			processor.Run(runCtx)
			close(workerDone)
		}()
		logger.Info("stats worker started in process")
	} else {
		close(workerDone)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// Shutdown does not close hijacked WebSocket connections. Cancelling runCtx stops the
	// coordinator, which waits for its in-flight store and queue calls before returning.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	runCancel()
	for _, done := range []chan struct{}{coordDone, workerDone} {
		select {
		case <-done:
		case <-shutdownCtx.Done():
			logger.Warn("shutdown timed out")
		}
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

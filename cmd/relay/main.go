package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"paintwithchat/internal/core/services"
	httphandlers "paintwithchat/internal/handlers/http"
	"paintwithchat/internal/infrastructure/middleware"
	"paintwithchat/internal/infrastructure/monitoring"
	"paintwithchat/internal/infrastructure/reliability"
	"paintwithchat/internal/infrastructure/repositories"
	wsignal "paintwithchat/internal/infrastructure/signal"
	"paintwithchat/internal/relay"
	"paintwithchat/pkg/circuitbreaker"
	"paintwithchat/pkg/config"
	"paintwithchat/pkg/logger"
	"paintwithchat/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := os.Getenv("PWC_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		// logger is not configured yet
		zap.NewExample().Sugar().Fatalw("failed to load config", "path", configPath, "error", err)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to build logger", "error", err)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewPrometheusCollector(registry)

	// Repositories
	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	guardOpts := reliability.OptionsFromConfig(cfg)
	guardOpts.OnStateChange = func(_, to circuitbreaker.State) { metrics.BreakerStateChanged(to) }
	guard := reliability.NewGuard(guardOpts, log)

	sessionRepo := reliability.WrapSessionRepository(repoFactory.CreateSessionRepository(), guard)
	drawingRepo := reliability.WrapDrawingRepository(repoFactory.CreateDrawingRepository(), guard)
	userRepo := services.NewCachedUserRepository(repoFactory.CreateUserRepository(), cfg.Relay.UserCacheTTL)
	defer userRepo.Stop()

	// Services
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	var sessionOpts []services.SessionServiceOption
	if locker := repoFactory.CreateLocker(); locker != nil {
		sessionOpts = append(sessionOpts, services.WithLocker(locker))
	}
	sessionService := services.NewSessionService(sessionRepo, log, sessionOpts...)

	hub, err := relay.NewHub(relay.Config{
		Mode:           relay.DrawMode(cfg.Relay.DrawMode),
		FlushDebounce:  cfg.Relay.FlushDebounce,
		FlushTimeout:   cfg.Relay.FlushTimeout,
		StorageTimeout: cfg.Relay.StorageTimeout,
	}, relay.Dependencies{
		Sessions: sessionService,
		Verifier: authService,
		Drawings: drawingRepo,
		Users:    userRepo,
		Metrics:  metrics,
	}, log)
	if err != nil {
		log.Fatalw("failed to create relay hub", "error", err)
	}
	sessionService.SetObserver(hub)

	wsConfig := wsignal.Config{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendBuffer:     cfg.Signal.SendBuffer,
		MaxMessageSize: cfg.Signal.MaxMessageSize,
		AllowedOrigins: cfg.Signal.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		wsConfig.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		wsConfig.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	wsServer := wsignal.NewWebSocketServer(hub, wsConfig, log)

	// Health
	checker := monitoring.NewHealthChecker()
	checker.AddCheck(monitoring.StorageCheck(repoFactory))
	checker.AddCheck(monitoring.BreakerCheck(guard.State))
	checkCtx, stopChecks := context.WithCancel(context.Background())
	defer stopChecks()
	checker.StartBackgroundChecks(checkCtx)

	// Router
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.MetricsMiddleware(metrics),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewHealthHandler(checker, hub.Stats).SetupRoutes(router)
	httphandlers.NewAuthHandler(authService, userRepo, cfg.Auth.TokenTTL, cfg.Auth.DevLogin).SetupRoutes(router)
	httphandlers.NewSessionHandler(sessionService, authService).SetupRoutes(router)
	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Infow("prometheus metrics enabled", "path", cfg.Monitoring.MetricsPath)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting relay server",
			"address", cfg.Server.Address,
			"draw_mode", hub.Mode(),
			"redis", repoFactory.UsesRedis(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Upgraded sockets are hijacked, so Shutdown does not wait for them;
	// closing the hub ends them and flushes every cached drawing.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	if err := hub.Close(shutdownCtx); err != nil {
		log.Errorw("error closing relay hub", "error", err)
	}
	if err := wsServer.Wait(shutdownCtx); err != nil {
		log.Warnw("websocket connections still open at shutdown", "error", err)
	}
	stopChecks()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer provider", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("relay server stopped")
}

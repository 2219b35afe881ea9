package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/realtime-server-go/internal/broker"
	"github.com/openclaw/realtime-server-go/internal/config"
	"github.com/openclaw/realtime-server-go/internal/database"
	"github.com/openclaw/realtime-server-go/internal/gateway"
	"github.com/openclaw/realtime-server-go/internal/handler"
	"github.com/openclaw/realtime-server-go/internal/jobs"
	"github.com/openclaw/realtime-server-go/internal/middleware"
	"github.com/openclaw/realtime-server-go/internal/presence"
	"github.com/openclaw/realtime-server-go/internal/ratelimit"
	"github.com/openclaw/realtime-server-go/internal/redis"
	"github.com/openclaw/realtime-server-go/internal/repository"
	"github.com/openclaw/realtime-server-go/internal/scheduler"
	"github.com/openclaw/realtime-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	userRepo := repository.NewUserRepository(db.DB)
	contactRepo := repository.NewContactRepository(db.DB)
	messageRepo := repository.NewMessageRepository(db.DB)
	callRepo := repository.NewCallRepository(db.DB)

	registry := presence.NewRegistry()
	eventBroker := broker.New(registry, redisClient)
	defer eventBroker.Close()

	timers := scheduler.New()
	defer timers.Stop()

	gate := service.NewContactGate(contactRepo)
	presenceService := service.NewPresenceService(registry, userRepo, contactRepo, eventBroker, eventBroker)
	messageService := service.NewMessageService(messageRepo, userRepo, gate, eventBroker, eventBroker)
	callService := service.NewCallService(callRepo, eventBroker, timers, cfg.CallTimeout())

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter()
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient.Client)
	}

	dispatcher := gateway.NewDispatcher(messageService, callService, presenceService, limiter, gateway.Limits{
		MessagesPerWindow: cfg.MessageRateLimitPerMin,
		CallsPerWindow:    cfg.CallRateLimitPerMin,
		Window:            config.RateLimitWindow,
	})
	wsHandler := gateway.NewHandler(dispatcher, cfg.AllowedOrigins())

	healthHandler := handler.NewHealthHandler(db, registry.TotalSessions)
	if redisClient != nil {
		healthHandler.WithRedis(redisClient)
	}
	presenceHandler := handler.NewPresenceHandler(registry, eventBroker)

	connectLimit := middleware.NewIPRateLimitMiddleware(
		limiter, cfg.ConnectRateLimitPerMin, config.RateLimitWindow, "connect",
	)
	securityHeaders := middleware.NewSecurityHeadersMiddleware(cfg.HSTSEnabled)

	allowedOrigins := cfg.AllowedOrigins()
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(securityHeaders.Handler)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(connectLimit.Handler).Get("/ws", wsHandler.ServeHTTP)
		r.Mount("/presence", presenceHandler.Routes())
	})

	staleCallJob := jobs.NewStaleCallJob(callService, cfg.StaleCallAfter(), config.StaleCallSweepInterval)
	staleCallJob.Start()
	defer staleCallJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

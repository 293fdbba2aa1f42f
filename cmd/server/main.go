package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sendpool/account-manager-go/internal/allocator"
	"github.com/sendpool/account-manager-go/internal/config"
	"github.com/sendpool/account-manager-go/internal/database"
	"github.com/sendpool/account-manager-go/internal/executor"
	"github.com/sendpool/account-manager-go/internal/handler"
	"github.com/sendpool/account-manager-go/internal/jobs"
	"github.com/sendpool/account-manager-go/internal/ledger"
	"github.com/sendpool/account-manager-go/internal/middleware"
	"github.com/sendpool/account-manager-go/internal/penalty"
	"github.com/sendpool/account-manager-go/internal/platform"
	"github.com/sendpool/account-manager-go/internal/redis"
	"github.com/sendpool/account-manager-go/internal/repository"
	"github.com/sendpool/account-manager-go/internal/rpc"
	"github.com/sendpool/account-manager-go/internal/secrets"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
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

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	accountRepo := repository.NewAccountRepository(db.DB)
	executionLogRepo := repository.NewExecutionLogRepository(db.DB)

	limits := ledger.LimitsFromConfig(cfg)
	usageLedger := ledger.NewRedisLedger(redisClient.Client, cfg.Platform, limits)

	penaltyMachine := penalty.NewMachine(accountRepo, usageLedger, cfg.FloodWaitBuffer(), cfg.PeerFloodSuspension())
	allocatorService := allocator.NewService(
		accountRepo, usageLedger, penaltyMachine, limits,
		cfg.DefaultLeaseTimeout(), cfg.MaxLeaseTimeout(),
	)

	platformRPC := rpc.NewClient(rpc.Config{
		BaseURL:     cfg.PlatformBaseURL,
		ServiceName: "account-manager",
		TokenSecret: cfg.ServiceTokenSecret,
		TokenTTL:    cfg.ServiceTokenTTL(),
	})
	secretStoreRPC := rpc.NewClient(rpc.Config{
		BaseURL:     cfg.SecretStoreURL,
		ServiceName: "account-manager",
		TokenSecret: cfg.ServiceTokenSecret,
		TokenTTL:    cfg.ServiceTokenTTL(),
	})
	adapter := platform.NewHTTPAdapter(platformRPC, secrets.NewClient(secretStoreRPC))
	actionExecutor := executor.New(
		usageLedger, accountRepo, executionLogRepo, penaltyMachine, adapter,
		cfg.SendRatePerMinute, cfg.MaxInProgressRetries,
	)

	authMiddleware := middleware.NewAuthMiddleware(cfg.ServiceTokenSecret)

	poolHandler := handler.NewPoolHandler(allocatorService)
	rateLimitHandler := handler.NewRateLimitHandler(usageLedger, accountRepo)
	accountsHandler := handler.NewAccountsHandler(accountRepo, executionLogRepo)
	executeHandler := handler.NewExecuteHandler(actionExecutor, accountRepo)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Mount("/", poolHandler.Routes())
		r.Mount("/rate-limit", rateLimitHandler.Routes())
		r.Mount("/execute", executeHandler.Routes())
		r.Mount("/admin", accountsHandler.Routes())
	})

	maintenanceJob := jobs.NewMaintenanceJob(
		accountRepo, executionLogRepo, usageLedger, config.MaintenanceJobInterval,
	)
	maintenanceJob.Start()
	defer maintenanceJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
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

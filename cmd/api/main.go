package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/creditrail/credit-api/internal/config"
	"github.com/creditrail/credit-api/internal/domain/account"
	"github.com/creditrail/credit-api/internal/domain/campaign"
	"github.com/creditrail/credit-api/internal/domain/credit"
	"github.com/creditrail/credit-api/internal/middleware"
	"github.com/creditrail/credit-api/internal/pkg/accountsvc"
	"github.com/creditrail/credit-api/internal/pkg/database"
	"github.com/creditrail/credit-api/internal/pkg/events"
	"github.com/creditrail/credit-api/internal/pkg/jwt"
	"github.com/creditrail/credit-api/internal/pkg/response"
	"github.com/creditrail/credit-api/migrations"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting Credit API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if err := database.Migrate(db, migrations.FS); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	var accountSvc *accountsvc.Client
	if cfg.AccountServiceBaseURL != "" {
		accountSvc = accountsvc.NewClient(cfg.AccountServiceBaseURL, cfg.AccountServiceToken, cfg.AccountServiceTimeout)
	} else {
		log.Warn().Msg("Account service not configured, external lookups disabled")
	}

	// ---------- Repositories ----------
	accountStore := account.NewStore(db)
	ledgerRepo := credit.NewLedgerRepository(db)
	allocationRepo := credit.NewAllocationRepository(db)
	campaignRepo := campaign.NewRepository(db)

	// ---------- Services ----------
	publisher := events.NewPublisher(redis)
	campaignService := campaign.NewService(campaignRepo)
	creditService := credit.NewService(db, accountStore, ledgerRepo, allocationRepo, campaignRepo, publisher, accountSvc)

	// ---------- Background workers ----------
	sweeper := credit.NewSweeper(creditService, redis, cfg.SweepInterval, cfg.ExpiryWarnAhead)
	sweeper.Start()
	defer sweeper.Stop()

	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	subscriber := events.NewSubscriber(redis)
	credit.RegisterEventHandlers(subscriber, creditService)
	subscriber.Start(subCtx)

	// ---------- Handlers ----------
	accountHandler := account.NewHandler(accountStore)
	campaignHandler := campaign.NewHandler(campaignService)
	creditHandler := credit.NewHandler(creditService)

	userAuth := middleware.Auth(jwtService)
	serviceAuth := middleware.ServiceAuth(cfg.ServiceToken)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/accounts", accountHandler.Routes(serviceAuth))
		r.Mount("/campaigns", campaignHandler.Routes(serviceAuth))
		r.Mount("/credits", creditHandler.Routes(userAuth, serviceAuth))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}
}

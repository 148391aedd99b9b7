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
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/cleanpoints/cleanpoints-api/internal/config"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/account"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/activity"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/catalog"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/ledger"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/recycling"
	"github.com/cleanpoints/cleanpoints-api/internal/middleware"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/database"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/jwt"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/logger"
	pkgresponse "github.com/cleanpoints/cleanpoints-api/internal/pkg/response"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/realtime"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/storage"
)

// app holds the wired services the router needs.
type app struct {
	cfg        *config.Config
	db         *sqlx.DB
	jwt        *jwt.Service
	hub        *realtime.Hub
	accounts   *account.Service
	engine     *ledger.Engine
	activities *activity.Service
}

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "cleanpoints-api",
	})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("db_driver", cfg.DatabaseDriver).
		Msg("Starting CleanPoints API")

	policy := cfg.DiscountPolicy()
	if err := policy.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid discount policy")
	}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close(db)

	if cfg.MigrateOnStart {
		if err := database.Migrate(context.Background(), db); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	hub := realtime.NewHub(redis)
	go hub.Run()
	defer hub.Shutdown()

	evidence, err := storage.New(context.Background(), storage.Config{
		Backend:     cfg.EvidenceBackend,
		LocalPath:   cfg.EvidenceLocalPath,
		BaseURL:     cfg.EvidenceBaseURL,
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure evidence storage")
	}

	validator := recycling.NewImageValidator(recycling.NewRandomOracle(cfg.RecyclingAcceptRate), recycling.DefaultBreakerConfig())
	a := newApp(cfg, db, hub, validator, evidence)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(a),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
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
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func newApp(cfg *config.Config, db *sqlx.DB, hub *realtime.Hub, validator recycling.Validator, evidence storage.Storage) *app {
	accountRepo := account.NewRepository(db)

	engine := ledger.NewEngine(
		ledger.NewUnitOfWork(db),
		accountRepo,
		ledger.NewTransactionLog(db),
		hub,
		ledger.Config{
			MaxRetries: cfg.LedgerMaxRetries,
			OpTimeout:  cfg.LedgerOpTimeout,
			Discount:   cfg.DiscountPolicy(),
		},
	)

	activities := activity.NewService(engine, catalog.NewRepository(db), validator, evidence, activity.Config{
		CourseRewardPoints:    cfg.CourseRewardPoints,
		RecyclingRewardPoints: cfg.RecyclingRewardPoints,
	})

	return &app{
		cfg:        cfg,
		db:         db,
		jwt:        jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL),
		hub:        hub,
		accounts:   account.NewService(accountRepo),
		engine:     engine,
		activities: activities,
	}
}

func newRouter(a *app) http.Handler {
	accountHandler := account.NewHandler(a.accounts, a.jwt)
	ledgerHandler := ledger.NewHandler(a.engine)
	activityHandler := activity.NewHandler(a.activities)
	realtimeHandler := realtime.NewHandler(a.hub, a.cfg.AllowedOrigins)

	authMiddleware := middleware.Auth(a.jwt)
	activeAccount := middleware.RequireActiveAccount(a.accounts, nil)
	memberAuth := func(next http.Handler) http.Handler {
		return authMiddleware(activeAccount(next))
	}
	recyclingLimit := middleware.AccountRateLimit(a.cfg.RecyclingRateLimit, a.cfg.RecyclingRateWindow)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(a.cfg.AllowedOrigins))

	r.With(middleware.TokenFromQuery, memberAuth).Get("/ws", realtimeHandler.WebSocket)

	r.With(authMiddleware, middleware.RequireAdmin()).Handle("/metrics", promhttp.Handler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.db.PingContext(ctx); err != nil {
			pkgresponse.ServiceUnavailable(w, "DATABASE_UNAVAILABLE", "Database is not reachable")
			return
		}
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	if a.cfg.EvidenceBackend == storage.BackendLocal {
		files := http.StripPrefix("/evidence", http.FileServer(storage.FilesOnly(a.cfg.EvidenceLocalPath)))
		r.With(middleware.TokenFromQuery, authMiddleware, activity.EvidenceAccess).Handle("/evidence/*", files)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Compress(5))

		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/accounts", accountHandler.Routes(authMiddleware))
		r.Mount("/ledger", ledgerHandler.Routes(authMiddleware))
		r.Mount("/activities", activityHandler.Routes(memberAuth, recyclingLimit))

		r.Route("/admin/accounts/{id}", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RequireAdmin())

			r.Post("/disable", accountHandler.Disable)
			r.Post("/enable", accountHandler.Enable)
			ledgerHandler.AdminRoutes(r)
		})
	})

	return r
}

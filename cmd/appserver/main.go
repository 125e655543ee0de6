// Package main runs the cosmic miner economy server.
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

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/cosmicminer/internal/app"
	"github.com/R3E-Network/cosmicminer/internal/app/httpapi"
	"github.com/R3E-Network/cosmicminer/internal/app/services/leaderboard"
	"github.com/R3E-Network/cosmicminer/internal/app/storage"
	"github.com/R3E-Network/cosmicminer/internal/app/storage/memory"
	mongostore "github.com/R3E-Network/cosmicminer/internal/app/storage/mongo"
	"github.com/R3E-Network/cosmicminer/internal/app/storage/postgres"
	"github.com/R3E-Network/cosmicminer/internal/app/system"
	"github.com/R3E-Network/cosmicminer/internal/config"
	"github.com/R3E-Network/cosmicminer/internal/middleware"
	"github.com/R3E-Network/cosmicminer/internal/platform/migrations"
	"github.com/R3E-Network/cosmicminer/pkg/logger"
)

func main() {
	log := logger.NewDefault("appserver")
	if err := run(log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	opts, err := app.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		defer redisClient.Close()
		opts.LeaderboardCache = leaderboard.NewRedisCache(redisClient, "")
		log.WithField("addr", cfg.RedisAddr).Info("leaderboard cache backed by redis")
	}

	application, err := app.New(app.Stores{
		Accounts:    store,
		Payments:    store,
		Withdrawals: store,
	}, opts, log)
	if err != nil {
		return err
	}

	sink, err := httpapi.NewFileAuditSink(cfg.AuditLogPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer sink.Close()
	audit := httpapi.NewAuditLog(500, sink)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log.Named("ratelimit"))
	limiter.StartCleanup(ctx, time.Minute)

	router := httpapi.NewHandler(application, audit, log.Named("httpapi"))
	router.Use(mux.MiddlewareFunc(limiter.Handler))
	var handler http.Handler = router
	handler = middleware.NewAuthMiddleware(application.Tokens, log.Named("auth"), httpapi.PublicPaths).Handler(handler)
	handler = middleware.NewCORSMiddleware(cfg.Origins()).Handler(handler)
	handler = middleware.MetricsMiddleware()(handler)
	handler = middleware.LoggingMiddleware(log.Named("http"))(handler)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if err := application.Attach(httpService{server: server, log: log}); err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return application.Stop(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, log *logger.Logger) (storage.Store, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		db, err := sqlx.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := migrations.Apply(db.DB); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("using postgres storage")
		return postgres.New(db), func() { _ = db.Close() }, nil
	case config.DriverMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		store, err := mongostore.Connect(connectCtx, cfg.MongoURL, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("database", cfg.MongoDB).Info("using mongo storage")
		return store, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}, nil
	default:
		log.Warn("using in-memory storage; state is lost on restart")
		return memory.New(), func() {}, nil
	}
}

// httpService runs the HTTP server under the lifecycle manager.
type httpService struct {
	server *http.Server
	log    *logger.Logger
}

func (s httpService) Name() string { return "http" }

func (s httpService) Start(context.Context) error {
	go func() {
		s.log.WithField("addr", s.server.Addr).Info("listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Fatal("server error")
		}
	}()
	return nil
}

func (s httpService) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

var _ system.Service = httpService{}

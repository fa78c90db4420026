package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/getachewzemene/minalesh-amplify-sub009/internal/cache"
	h "github.com/getachewzemene/minalesh-amplify-sub009/internal/http"
	"github.com/getachewzemene/minalesh-amplify-sub009/internal/publisher"
	"github.com/getachewzemene/minalesh-amplify-sub009/internal/service"
	"github.com/getachewzemene/minalesh-amplify-sub009/internal/store"
	"github.com/getachewzemene/minalesh-amplify-sub009/internal/sweeper"
)

type Config struct {
	HTTPPort        string
	CleanupSecret   string
	RedisAddr       string
	KafkaBrokers    string
	ReservationTTL  time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	DB              store.Credentials
}

func loadConfig() *Config {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		log.Fatalf("invalid DB_PORT: %v", err)
	}

	ttlMinutes, err := strconv.Atoi(getEnv("RESERVATION_TTL_MINUTES", "15"))
	if err != nil {
		log.Fatalf("invalid RESERVATION_TTL_MINUTES: %v", err)
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8084"),
		CleanupSecret:   getEnv("CLEANUP_SECRET", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		KafkaBrokers:    getEnv("KAFKA_BROKERS", ""),
		ReservationTTL:  time.Duration(ttlMinutes) * time.Minute,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		DB: store.Credentials{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              dbPort,
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "reservations"),
			MigrationsDirPath: getEnv("MIGRATIONS_DIR", "./migrations"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg := loadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	pgStore, err := store.NewPostgresStore(&cfg.DB)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	if err := pgStore.RunMigrations(&cfg.DB); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("connected to postgres", zap.String("host", cfg.DB.Host))

	var availabilityCache cache.AvailabilityCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		availabilityCache = cache.NewRedisCache(redisClient)
		logger.Info("availability cache enabled", zap.String("addr", cfg.RedisAddr))
	}

	svc := service.NewReservationService(pgStore, availabilityCache, logger, service.Config{
		TTL: cfg.ReservationTTL,
	})
	sw := sweeper.New(pgStore, logger, sweeper.DefaultBatchSize)

	pollerCtx, stopPoller := context.WithCancel(context.Background())
	defer stopPoller()
	if cfg.KafkaBrokers != "" {
		poller := publisher.NewOutboxPoller(pgStore, logger, strings.Split(cfg.KafkaBrokers, ",")...)
		go poller.Run(pollerCtx)
		logger.Info("outbox poller started", zap.String("brokers", cfg.KafkaBrokers))
	}

	handler := h.NewReservationHandler(svc, sw, logger)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(h.RequestIDMiddleware)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/", handler.Routes(cfg.CleanupSecret))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(r, "reservation-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("reservation service starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down reservation service...")
	stopPoller()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	if err := pgStore.Close(); err != nil {
		logger.Error("failed to close store", zap.Error(err))
	}
	logger.Info("reservation service stopped")
}

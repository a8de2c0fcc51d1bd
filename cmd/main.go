/**
 * @description
 * Entry point for the identity-service. Wires configuration, PostgreSQL,
 * Redis, and the outbox dispatcher together, assembles the HTTP router,
 * and runs the server with graceful shutdown.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: PostgreSQL connection pooling.
 * - github.com/redis/go-redis/v9: Distributed rate limiting backend.
 * - github.com/joho/godotenv: Local .env loading.
 */

package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/voyago/identity-service/internal/api"
	"github.com/voyago/identity-service/internal/app"
	"github.com/voyago/identity-service/internal/config"
	"github.com/voyago/identity-service/internal/store"
	"github.com/voyago/identity-service/internal/token"
)

func maskAMQPURLForLog(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		return "<unparseable>"
	}
	if u.User != nil {
		u.User = url.UserPassword("****", "****")
	}
	return u.String()
}

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	// Establish database connection pool
	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to parse database URL: %v\n", err)
	}

	dbConfig.MaxConns = 10
	dbConfig.MinConns = 2
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), dbConfig)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer dbpool.Close()
	log.Println("Database connection established")

	// Ensure required tables exist (idempotent)
	if err := store.EnsureSchema(context.Background(), dbpool); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	// Redis is optional; without it the rate limiter degrades to no-op.
	var redisClient redis.UniversalClient
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: Invalid REDIS_URL: %v. Continuing without rate limiting.", err)
		} else {
			client := redis.NewClient(opts)
			if err := client.Ping(context.Background()).Err(); err != nil {
				log.Printf("WARNING: Failed to connect to Redis at startup: %v. Continuing without rate limiting.", err)
				_ = client.Close()
			} else {
				redisClient = client
				defer client.Close()
				log.Println("Redis connection established")
			}
		}
	}

	log.Printf("RABBITMQ_URL (masked)=%s", maskAMQPURLForLog(cfg.RabbitMQURL))

	repo := store.NewPostgresRepository(dbpool)

	tokens := token.NewService(
		cfg.JWTAccessSecret,
		cfg.JWTRefreshSecret,
		cfg.AccessTokenTTL(),
		cfg.RefreshTokenTTL(),
		cfg.SessionTTL(),
		repo,
	)
	policy := app.PasswordPolicy{MinLength: cfg.MinPasswordLength, Cost: cfg.BcryptCost}
	lockout := app.NewLockoutGuard(repo, cfg.LockoutMaxAttempts, cfg.LockoutDuration())
	otpService := app.NewOtpService(repo, cfg.OtpTTL())
	mfaService := app.NewMfaService(repo, repo, cfg.MfaIssuer, cfg.MfaEnrollTTL())
	rbacService := app.NewRBACService(repo)
	authService := app.NewAuthService(repo, repo, tokens, policy, lockout, otpService, mfaService)

	// Seed the built-in roles (idempotent upserts)
	rbacService.SeedSystemRoles(context.Background())

	// Drain the transactional outbox in the background
	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	defer stopDispatcher()
	dispatcher := app.NewOutboxDispatcher(repo, cfg.RabbitMQURL)
	go dispatcher.Run(dispatcherCtx)

	limiter := app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)

	handler := api.NewAuthHandler(authService, mfaService, rbacService)
	router := api.NewRouter(handler, api.RouterConfig{
		Tokens:                  tokens,
		Limiter:                 limiter,
		LoginRateLimitPerMinute: cfg.LoginRateLimitPerMinute,
		OtpRateLimitPerMinute:   cfg.OtpRateLimitPerMinute,
	})

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %s\n", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	stopDispatcher()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server gracefully stopped")
}

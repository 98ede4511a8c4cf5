package main

import (
	"context"   // Context for Redis ping and shutdown
	"errors"    // Server close detection
	"net/http"  // HTTP server
	"os"        // Signals
	"os/signal" // Graceful shutdown
	"syscall"   // SIGTERM
	"time"      // Timeouts

	"github.com/gin-gonic/gin"                                // Gin web framework
	"github.com/prometheus/client_golang/prometheus"          // Metrics registry
	"github.com/prometheus/client_golang/prometheus/promhttp" // Metrics endpoint
	"github.com/redis/go-redis/v9"                            // Redis client
	"github.com/sirupsen/logrus"                              // Logrus for structured logging

	"crowdfund_ledger/internal/api"        // HTTP handlers
	"crowdfund_ledger/internal/config"     // Configuration
	"crowdfund_ledger/internal/db"         // Database connection
	"crowdfund_ledger/internal/gateway"    // Payment gateway client
	"crowdfund_ledger/internal/ledger"     // Ledger engine
	"crowdfund_ledger/internal/metrics"    // Ledger metrics
	"crowdfund_ledger/internal/query"      // Read models
	"crowdfund_ledger/internal/settlement" // Gateway settlement
	"crowdfund_ledger/internal/store"      // Persistence
	"crowdfund_ledger/internal/utils"      // Cache
)

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	log := logrus.StandardLogger()
	if cfg.IsProd {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	// Setup storage: a SQL database, or memory for local runs
	var st store.Store
	if cfg.DBDriver == "memory" {
		log.Warn("Using in-memory store, balances are lost on restart")
		st = store.NewMemoryStore()
	} else {
		gdb, err := db.Open(cfg)
		if err != nil {
			log.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
		}
		st = store.NewGormStore(gdb)
	}

	// Setup cache: Redis when configured, process memory otherwise
	var cache utils.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr, // Redis server address
			Password: cfg.RedisPass, // Redis password
			DB:       cfg.RedisDB,   // Redis database number
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cache = utils.NewRedisCache(redisClient)
	} else {
		cache = utils.NewMemoryCache()
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	engine := ledger.NewEngine(st,
		ledger.WithLogger(log),
		ledger.WithMetrics(m),
		ledger.WithMaxRetries(cfg.MaxCASRetries),
	)
	facade := query.NewFacade(st, cache, cfg.CacheTTL, log)
	client := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey,
		gateway.WithClientLogger(log),
		gateway.WithClientMetrics(m),
	)
	svc := settlement.NewService(engine, ledger.NewGuard(st, nil), gateway.NewAdapter(client, cfg.GatewayTimeout),
		settlement.WithLogger(log),
		settlement.WithMetrics(m),
		settlement.WithInvalidator(facade),
		settlement.WithCallbackURL(cfg.GatewayCallbackURL),
		settlement.WithVerifyRetry(cfg.VerifyAttempts, cfg.VerifyBackoff),
	)

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup Gin
	r := gin.Default() // Gin router instance

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		log.Fatalf("failed to set trusted proxies: %v", err)
	}

	api.RegisterRoutes(r, &api.Services{
		Engine:          engine,
		Settlement:      svc,
		Query:           facade,
		DefaultCurrency: cfg.DefaultCurrency,
		Log:             log,
		RedirectURL:     cfg.PaymentRedirectURL,
	}, cfg.JWTSecret, promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Server running on " + cfg.AppPort) // Log server start
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// Let in-flight transfers finish before exiting
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
}

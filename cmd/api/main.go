// Package main is the entry point for the payment API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/marketbase/paycore/internal/api"
	"github.com/marketbase/paycore/internal/auth"
	"github.com/marketbase/paycore/internal/config"
	"github.com/marketbase/paycore/internal/db"
	"github.com/marketbase/paycore/internal/dedup"
	"github.com/marketbase/paycore/internal/event"
	"github.com/marketbase/paycore/internal/gateway"
	"github.com/marketbase/paycore/internal/health"
	"github.com/marketbase/paycore/internal/idempotency"
	"github.com/marketbase/paycore/internal/middleware"
	"github.com/marketbase/paycore/internal/order"
	"github.com/marketbase/paycore/internal/payment"
	"github.com/marketbase/paycore/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Paycore API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	// Initialize logger
	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Distributed tracing (enabled when an OTLP endpoint is configured)
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "paycore-api",
		Enabled:      cfg.OTLPEndpoint != "",
		Environment:  cfg.Env,
		ExporterType: "otlp-http",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Database and migrations
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	if err := db.RunMigrations(database, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Metrics registry
	registry := prometheus.NewRegistry()
	paymentMetrics := payment.NewMetrics()
	if err := paymentMetrics.Register(registry); err != nil {
		logger.Error("failed to register payment metrics", "error", err)
		os.Exit(1)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	// Event distribution: in-process bus, plus RabbitMQ when configured
	bus := event.NewBus(logger)
	broadcaster := event.NewBroadcaster()
	bus.Subscribe("event-feed", "", broadcaster.HandleEvent)

	var amqpConn *amqp.Connection
	if cfg.AMQPURL != "" {
		amqpConn, err = amqp.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Error("failed to connect to broker", "error", err)
			os.Exit(1)
		}
		defer amqpConn.Close()

		amqpPublisher, err := event.NewAMQPPublisher(amqpConn, event.CBORCodec{})
		if err != nil {
			logger.Error("failed to create broker publisher", "error", err)
			os.Exit(1)
		}
		bus.Subscribe("broker-forward", "", amqpPublisher.Publish)
	}

	// Dedup store: Redis when configured, in-memory otherwise
	var (
		dedupStore  dedup.Store
		redisClient *redis.Client
		cleanupStop chan struct{}
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		dedupStore = dedup.NewRedisStore(redisClient)
	} else {
		memStore := dedup.NewInMemoryStore()
		cleanupStop = make(chan struct{})
		go memStore.RunPeriodicCleanup(10*time.Minute, cleanupStop)
		dedupStore = memStore
	}

	// Idempotent POST handling for payment creation
	idemRepo := idempotency.NewInMemoryRepository()
	idemStop := make(chan struct{})
	go idempotency.RunPeriodicCleanup(idemRepo, time.Hour, idempotency.DefaultExpiry, idemStop)

	// Rate limiting: shared Redis counters when available
	var rateLimitStore middleware.RateLimitStore
	if redisClient != nil {
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient)
	} else {
		memLimiter := middleware.NewInMemoryRateLimitStore()
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					memLimiter.Cleanup()
				case <-ctx.Done():
					return
				}
			}
		}()
		rateLimitStore = memLimiter
	}

	// Payment core
	paymentRepo := payment.NewPostgresRepository(database, logger)
	stripeGateway := gateway.NewStripeGateway(cfg.StripeAPIKey)
	paymentService := payment.NewService(paymentRepo, stripeGateway, bus, paymentMetrics, logger)

	// Order consumer: processes payment events with idempotent delivery
	orderRepo := order.NewPostgresRepository(database, logger)
	quota := order.NewInMemoryQuota()
	consumer := order.NewConsumer(orderRepo, quota, dedupStore, cfg.DedupWindow, logger)
	if amqpConn != nil {
		if err := event.StartConsumer(ctx, amqpConn, "paycore-orders", event.CBORCodec{}, consumer.HandleEvent, logger); err != nil {
			logger.Error("failed to start broker consumer", "error", err)
			os.Exit(1)
		}
	} else {
		bus.Subscribe("order-consumer", "", consumer.HandleEvent)
	}

	// Authentication
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	requireAuth := middleware.Auth(jwtService)

	// Handlers
	paymentHandlers := api.NewPaymentHandlers(paymentService)
	eventStreamHandlers := api.NewEventStreamHandlers(broadcaster)

	healthConfig := api.HealthHandlersConfig{
		DBChecker:      health.NewDBChecker(database),
		MetricsEnabled: true,
	}
	if redisClient != nil {
		healthConfig.RedisChecker = health.NewRedisChecker(redisClient)
	}
	if amqpConn != nil {
		healthConfig.BrokerChecker = health.NewAMQPChecker(amqpConn)
	}
	healthHandlers := api.NewHealthHandlers(healthConfig)

	// Routes
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/payments", requireAuth(http.HandlerFunc(paymentHandlers.HandlePayments)))
	mux.Handle("/payments/events", requireAuth(http.HandlerFunc(eventStreamHandlers.SubscribeToPaymentEvents)))
	mux.Handle("/payments/", requireAuth(http.HandlerFunc(paymentHandlers.HandlePaymentByID)))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Only handle exact root path, everything else returns 404
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"paycore-api","version":"0.0.1"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Apply middleware: RequestID -> Tracing -> HTTPMetrics -> Logging -> CORS -> RateLimiter -> Idempotency
	var handler http.Handler = mux
	if cfg.Env == "development" {
		handler = middleware.Profiling(middleware.ProfilingConfig{
			Enabled:     true,
			Environment: cfg.Env,
		})(handler)
	}
	handler = middleware.IdempotencyMiddleware(idemRepo, map[string]bool{"/payments": true})(handler)
	handler = middleware.RateLimiter(rateLimitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID", middleware.IdempotencyKeyHeader},
		MaxAge:         300,
	})(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	if cfg.OTLPEndpoint != "" {
		handler = middleware.Tracing("paycore-api")(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	<-ctx.Done()

	logger.Info("shutting down server...")

	close(idemStop)
	if cleanupStop != nil {
		close(cleanupStop)
	}

	// Create context with timeout for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer provider", "error", err)
	}

	logger.Info("server stopped")
}

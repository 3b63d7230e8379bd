// Package main is the entry point for the payment reconciliation worker.
// It sweeps stuck CONFIRMING payments against gateway ground truth and,
// when object storage is configured, exports daily settlement files.
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

	"github.com/marketbase/paycore/internal/config"
	"github.com/marketbase/paycore/internal/db"
	"github.com/marketbase/paycore/internal/event"
	"github.com/marketbase/paycore/internal/export"
	"github.com/marketbase/paycore/internal/gateway"
	"github.com/marketbase/paycore/internal/jobs"
	"github.com/marketbase/paycore/internal/middleware"
	"github.com/marketbase/paycore/internal/payment"
	"github.com/marketbase/paycore/internal/reconcile"
)

// metricsPort is where the worker exposes /metrics and /health.
const metricsPort = 9091

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Paycore Reconciliation Worker")
		fmt.Println()
		fmt.Println("Usage: reconciler [options]")
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

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	registry := prometheus.NewRegistry()
	paymentMetrics := payment.NewMetrics()
	if err := paymentMetrics.Register(registry); err != nil {
		logger.Error("failed to register payment metrics", "error", err)
		os.Exit(1)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	// The sweeper publishes the same lifecycle events the API does. The
	// in-process bus keeps the publish path identical; downstream consumers
	// pick them up through the broker-fed queue when one is configured.
	bus := event.NewBus(logger)
	if cfg.AMQPURL != "" {
		amqpConn, err := amqp.Dial(cfg.AMQPURL)
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

	paymentRepo := payment.NewPostgresRepository(database, logger)
	stripeGateway := gateway.NewStripeGateway(cfg.StripeAPIKey)
	paymentService := payment.NewService(paymentRepo, stripeGateway, bus, paymentMetrics, logger)

	sweeper := reconcile.NewSweeper(paymentService, cfg.ConfirmStuckAfter, cfg.SweepInterval, jobMetrics, logger)
	go sweeper.Run(ctx)

	// Daily settlement export when object storage is configured
	if cfg.ExportBucketName != "" {
		exportService, err := export.NewService(paymentRepo, export.ServiceConfig{
			BucketName:      cfg.ExportBucketName,
			AccessKeyID:     cfg.ExportAccessKeyID,
			SecretAccessKey: cfg.ExportSecretAccessKey,
			Endpoint:        cfg.ExportEndpoint,
		}, logger)
		if err != nil {
			logger.Error("failed to create export service", "error", err)
			os.Exit(1)
		}
		go runDailyExport(ctx, exportService, jobMetrics, logger)
	}

	// Expose metrics and liveness for the worker
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", metricsPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting reconciler", "metrics_port", metricsPort,
			"stuck_after", cfg.ConfirmStuckAfter.String(),
			"interval", cfg.SweepInterval.String(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down reconciler...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server forced to shutdown", "error", err)
	}

	logger.Info("reconciler stopped")
}

// runDailyExport uploads a settlement file every 24 hours covering the
// previous day.
func runDailyExport(ctx context.Context, svc *export.Service, metrics *jobs.Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			started := time.Now()
			to := started.UTC().Truncate(24 * time.Hour)
			from := to.Add(-24 * time.Hour)

			key, err := svc.Export(ctx, from, to, export.FormatCSV)
			metrics.ObserveJobDuration(jobs.JobTypeSettlementExport, time.Since(started).Seconds())
			if err != nil {
				metrics.IncJobsTotal(jobs.JobTypeSettlementExport, jobs.StatusFailure)
				metrics.IncJobErrors(jobs.JobTypeSettlementExport, "export")
				logger.Error("settlement export failed", "error", err)
				continue
			}
			metrics.IncJobsTotal(jobs.JobTypeSettlementExport, jobs.StatusSuccess)
			logger.Info("settlement export completed", "key", key)
		}
	}
}

/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commission engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present), parse flags, load config
  2. Build logger
  3. Initialize SQLite store
  4. Wire processor, reporter, aggregator and notifiers
  5. Start lifecycle scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: config.yaml, optional)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (cancels an in-flight run, which logs as truncated)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close notifiers and database connection

ENVIRONMENT:
  See config/config.go for the full list (HTTP_PORT, DATABASE_PATH,
  HOLD_DAYS, LIFECYCLE_INTERVAL, OPERATOR_TOKEN, SMTP_*, KAFKA_*, ...).

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration sources
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/config"
	"github.com/warp/commission-engine/notify"
	"github.com/warp/commission-engine/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Flags
	configPath := flag.String("config", "config.yaml", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.HTTP.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger := config.NewLogger(cfg.Log)

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer store.Close()

	// Notifications
	notifier, closers := buildNotifier(cfg.Notify, logger)
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.WithError(err).Warn("Failed to close notifier")
			}
		}
	}()

	// Domain wiring
	processor := commission.NewProcessor(store, store, commission.HoldPolicy{Days: cfg.Lifecycle.HoldDays}, logger)
	reporter := commission.NewReporter(processor, store, logger)
	reporter.MaxDuration = cfg.Lifecycle.MaxRunDuration
	aggregator := commission.NewAggregator(store, notifier, logger)

	handler := api.NewHandler(store, reporter, aggregator, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins:       cfg.HTTP.AllowedOrigins,
		OperatorToken:        cfg.Operator.Token,
		TriggerRatePerMinute: cfg.Operator.TriggerRatePerMinute,
		Logger:               logger,
	})

	// Scheduler
	scheduler := api.NewLifecycleScheduler(reporter, logger)
	scheduler.Interval = cfg.Lifecycle.Interval
	scheduler.Enabled = cfg.Lifecycle.SchedulerEnabled
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Lifecycle.MaxRunDuration + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"port":      cfg.HTTP.Port,
			"db":        cfg.Database.Path,
			"hold_days": cfg.Lifecycle.HoldDays,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}

// buildNotifier always logs payouts and adds email and Kafka delivery when
// configured.
func buildNotifier(cfg config.NotifyConfig, logger logrus.FieldLogger) (commission.Notifier, []func() error) {
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	var closers []func() error

	if cfg.SMTP.Enabled() {
		notifiers = append(notifiers, notify.NewSMTPNotifier(
			cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From, cfg.SMTP.To,
		))
		logger.WithField("host", cfg.SMTP.Host).Info("SMTP payout notifications enabled")
	}

	if cfg.Kafka.Enabled() {
		kn, err := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.WithError(err).Warn("Kafka payout notifications disabled")
		} else {
			notifiers = append(notifiers, kn)
			closers = append(closers, kn.Close)
			logger.WithField("topic", cfg.Kafka.Topic).Info("Kafka payout notifications enabled")
		}
	}

	return notifiers, closers
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"bilancio/internal/amqp"
	"bilancio/internal/config"
	"bilancio/internal/ledger"
	applog "bilancio/internal/log"
	"bilancio/internal/storage"
)

// The worker consumes ledger change events and audits the monthly aggregate
// cache of every touched month against a direct recomputation. Drift is
// logged, never repaired: the cache is only ever written transactionally with
// the entries, so a mismatch means a bookkeeping bug.
func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(cfg.LogLevel),
		Component: applog.ComponentWorker,
	})
	applog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	repo, err := storage.Open(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open ledger database",
			applog.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	auditor := ledger.NewAuditor(repo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.ConsumeLedgerEvents(gctx, func(msg *amqp.LedgerEventMessage) error {
			// Events without a month bucket (envelope create/delete) carry
			// no aggregate effect.
			if msg.Year == 0 || msg.Month == 0 {
				return nil
			}

			ok, err := auditor.CheckMonth(gctx, msg.Year, msg.Month)
			if err != nil {
				return err
			}
			logger.Debug("Audited month after ledger event",
				applog.FieldEventKind, msg.Kind,
				applog.FieldYear, msg.Year,
				applog.FieldMonth, msg.Month,
				"consistent", ok)
			return nil
		})
	})

	logger.Info("Starting bilancio-worker", "queue", cfg.AMQPQueue)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}

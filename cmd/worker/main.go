package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/duespark/collector-api/internal/accounting"
	"github.com/duespark/collector-api/internal/config"
	"github.com/duespark/collector-api/internal/dispatch"
	"github.com/duespark/collector-api/internal/model"
	"github.com/duespark/collector-api/internal/notifier/twilio"
	"github.com/duespark/collector-api/internal/reminder"
	"github.com/duespark/collector-api/internal/report"
	"github.com/duespark/collector-api/internal/repository"
	"github.com/duespark/collector-api/internal/repository/postgres"
	"github.com/duespark/collector-api/internal/syncer"
	"github.com/duespark/collector-api/pkg/logger"
	"github.com/duespark/collector-api/pkg/metrics"
)

func setupHealthCheck(log *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			log.ZL.Error().Err(err).Msg("health check server failed")
			os.Exit(1)
		}
	}()
}

func main() {
	log := logger.NewLogger(nil)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err, "failed to load configuration")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	m := metrics.NewMetrics("collector", "worker")

	customerRepo := postgres.NewCustomerRepository(db)
	invoiceRepo := postgres.NewInvoiceRepository(db)
	reminderRepo := postgres.NewReminderRepository(db)
	policyRepo := postgres.NewPolicyRepository(db)
	runRepo := postgres.NewSyncRunRepository(db)

	tokens, err := accounting.NewStaticTokenProviderFromEnv()
	if err != nil {
		log.Fatal(err, "failed to load accounting credentials")
	}
	source := accounting.NewClient(accounting.Config{
		BaseURL: cfg.Accounting.BaseURL,
		Timeout: cfg.Accounting.Timeout,
	}, tokens, log)

	scheduler := reminder.NewScheduler(reminderRepo, invoiceRepo, log)
	orchestrator := syncer.NewOrchestrator(
		source, customerRepo, invoiceRepo, policyRepo, runRepo, scheduler, log, m,
	)
	orchestrator.SetPageSize(cfg.Sync.PageSize)

	twilioCfg, err := config.LoadTwilioConfig()
	if err != nil {
		log.Fatal(err, "failed to load twilio configuration")
	}

	dispatcher := dispatch.NewDispatcher(
		reminderRepo,
		invoiceRepo,
		customerRepo,
		policyRepo,
		twilio.NewSMSSender(*twilioCfg, log),
		twilio.NewVoiceDialer(*twilioCfg, log),
		dispatch.Config{
			PollInterval:  cfg.Dispatch.PollInterval,
			BatchSize:     cfg.Dispatch.BatchSize,
			SendTimeout:   cfg.Dispatch.SendTimeout,
			RatePerSecond: cfg.Dispatch.RatePerSecond,
			RateBurst:     cfg.Dispatch.RateBurst,
		},
		log,
		m,
	)

	emailer := report.NewEmailer(cfg.Report, log)

	setupHealthCheck(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := cron.New()
	if _, err := c.AddFunc(cfg.Sync.Cron, func() {
		syncAllOwners(ctx, policyRepo, orchestrator, emailer, log)
	}); err != nil {
		log.Fatal(err, "invalid sync cron spec", "cron", cfg.Sync.Cron)
	}
	c.Start()

	go dispatcher.Start(ctx, func(result *model.DispatchResult) {
		// Only eventful runs are worth an email.
		if result.Failed > 0 || len(result.Errors) > 0 {
			emailer.SendDispatchSummary(result)
		}
	})

	log.Info("worker started", "sync_cron", cfg.Sync.Cron,
		"dispatch_poll", cfg.Dispatch.PollInterval.String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")
	cancel()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		log.Warn("timed out waiting for running jobs")
	}
}

// syncAllOwners runs a sync pass for every owner with a policy row. Owner
// failures are isolated; one broken tenant must not starve the rest.
func syncAllOwners(ctx context.Context, policies repository.PolicyRepository, orchestrator *syncer.Orchestrator, emailer *report.Emailer, log *logger.Logger) {
	ownerIDs, err := policies.ListOwnerIDs(ctx)
	if err != nil {
		log.Error(err, "failed to list owners for sync")
		return
	}

	for _, ownerID := range ownerIDs {
		result, err := orchestrator.SyncOwner(ctx, ownerID)
		if err != nil {
			log.Error(err, "sync failed", "owner_id", ownerID.String())
			continue
		}
		emailer.SendSyncSummary(result)
	}
}

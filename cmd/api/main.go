package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duespark/collector-api/internal/config"
	"github.com/duespark/collector-api/internal/handler"
	"github.com/duespark/collector-api/internal/handler/webhook"
	"github.com/duespark/collector-api/internal/reconciler"
	"github.com/duespark/collector-api/internal/repository/postgres"
	"github.com/duespark/collector-api/internal/router"
	"github.com/duespark/collector-api/pkg/logger"
	"github.com/duespark/collector-api/pkg/metrics"
)

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

	m := metrics.NewMetrics("collector", "api")

	reminderRepo := postgres.NewReminderRepository(db)

	var deduper *reconciler.Deduper
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		deduper = reconciler.NewDeduper(rdb, log)
	}

	rec := reconciler.NewReconciler(reminderRepo, deduper, log, m)

	r := router.NewRouter(
		handler.NewHealthHandler(db),
		webhook.NewHandler(rec, log),
		time.Duration(cfg.Server.TimeoutSeconds)*time.Second,
		log,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting callback API", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down callback API")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "forced shutdown")
	}
}

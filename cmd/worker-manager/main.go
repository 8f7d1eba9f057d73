// cmd/worker-manager/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"arthouse/internal/api"
	"arthouse/internal/bootstrap"
	"arthouse/internal/common/camunda"
	"arthouse/internal/common/config"
	"arthouse/internal/common/logger"
	"arthouse/internal/common/observability"

	ra "arthouse/internal/workers/application/review-application"
	sn "arthouse/internal/workers/application/send-notification"
	se "arthouse/internal/workers/application/sync-entitlement"
	snl "arthouse/internal/workers/crm/subscribe-newsletter"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...")

	if !cfg.Camunda.Enabled {
		zapLog.Fatal("camunda.enabled is false; nothing to run")
	}

	obs := observability.New("worker-manager", log)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = bootstrap.RetryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(camunda.ConfigFrom(cfg.Camunda))
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	infra, err := bootstrap.Connect(ctx, cfg, zapLog)
	if err != nil {
		zapLog.Fatal("backing services unavailable", zap.Error(err))
	}
	defer infra.Close()

	stores := bootstrap.NewStores(ctx, infra, cfg, log)
	services, err := bootstrap.NewServices(ctx, cfg, stores, log, bootstrap.Options{})
	if err != nil {
		zapLog.Fatal("service wiring failed", zap.Error(err))
	}

	// --- Register Workers ---
	var workers []*camunda.CamundaWorker
	start := func(taskType string, handler camunda.JobHandler) {
		if !config.IsWorkerEnabled(cfg, taskType) {
			zapLog.Info("worker disabled", zap.String("taskType", taskType))
			return
		}
		wcfg := config.GetWorkerConfig(cfg, taskType)
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), taskType, wcfg, handler, log, obs))
	}
	timeout := func(taskType string) time.Duration {
		return config.GetDuration(config.GetWorkerConfig(cfg, taskType).Timeout)
	}

	reviewCfg := ra.LoadConfig()
	reviewCfg.Timeout = timeout(ra.TaskType)
	start(ra.TaskType, ra.NewHandler(reviewCfg, services.Review, log))

	start(se.TaskType, se.NewHandler(
		&se.Config{Timeout: timeout(se.TaskType)},
		stores.Applications, services.Entitlement, log,
	))

	start(sn.TaskType, sn.NewHandler(
		&sn.Config{Timeout: timeout(sn.TaskType), LoginURL: bootstrap.LoginURL(cfg)},
		stores.Applications, services.Mailer, log,
	))

	start(snl.TaskType, snl.NewHandler(
		&snl.Config{Timeout: timeout(snl.TaskType), Source: "application"},
		stores.Applications, services.Newsletter, log,
	))

	zapLog.Info("workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	checks := infra.Checks()
	checks["zeebe"] = zeebe.HealthCheck
	ops := &http.Server{
		Addr:    cfg.Server.MetricsAddress,
		Handler: api.NewServer(api.Deps{Checks: checks, Observability: obs}, log).OpsRouter(),
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.MetricsAddress))
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if err := ops.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

// cmd/api-server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"arthouse/internal/api"
	"arthouse/internal/bootstrap"
	"arthouse/internal/common/camunda"
	"arthouse/internal/common/config"
	"arthouse/internal/common/logger"
	"arthouse/internal/common/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting api server...", zap.String("environment", cfg.App.Environment))

	obs := observability.New("api-server", log)
	defer obs.Shutdown()

	ctx := context.Background()

	infra, err := bootstrap.Connect(ctx, cfg, zapLog)
	if err != nil {
		zapLog.Fatal("backing services unavailable", zap.Error(err))
	}
	defer infra.Close()

	opts := bootstrap.Options{DecisionEmails: true}
	checks := infra.Checks()
	if cfg.Camunda.Enabled {
		zeebe, err := camunda.NewClientWithConfig(camunda.ConfigFrom(cfg.Camunda))
		if err != nil {
			zapLog.Warn("zeebe unavailable, submissions will not start workflows", zap.Error(err))
		} else {
			defer zeebe.Close()
			opts.Workflow = zeebe
			checks["zeebe"] = zeebe.HealthCheck
		}
	}

	stores := bootstrap.NewStores(ctx, infra, cfg, log)
	services, err := bootstrap.NewServices(ctx, cfg, stores, log, opts)
	if err != nil {
		zapLog.Fatal("service wiring failed", zap.Error(err))
	}

	deps := api.Deps{
		Applications:  services.Intake,
		Reviews:       services.Review,
		Approvals:     services.Entitlement,
		Community:     services.Community,
		Newsletter:    services.Newsletter,
		Referrals:     services.Referral,
		Checks:        checks,
		Observability: obs,
	}
	if cfg.Auth.RequireAdminToken {
		deps.Tokens = services.Keycloak
		deps.AdminRole = cfg.Auth.AdminRole
	}
	if cfg.RateLimit.Enabled {
		deps.Limiter = api.NewRedisLimiter(infra.Redis.Client)
		deps.RateLimit = api.RateLimitPolicy{
			Requests: cfg.RateLimit.Requests,
			Window:   config.GetDuration(cfg.RateLimit.Window),
		}
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.NewServer(deps, log).Router(),
		ReadTimeout:  config.GetDuration(cfg.Server.RequestTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.RequestTimeout),
	}

	go func() {
		zapLog.Info("API listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("API server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down API server", zap.Error(err))
	}

	zapLog.Info("API server stopped gracefully")
}

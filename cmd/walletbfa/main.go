package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/config"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/guard"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/handler"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/client"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/notify"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/observability"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/resilience"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/port"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/service"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", ".env", "path to an optional .env or YAML config file")
	flag.Parse()

	// --- Config ---
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	minWithdrawal, minRecharge, err := cfg.Minimums()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("ledger_api_url", cfg.LedgerAPIURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("account_fresh_for", cfg.AccountFreshFor),
		zap.Duration("memberships_fresh_for", cfg.MembershipsFreshFor),
		zap.Duration("my_membership_fresh_for", cfg.MyMembershipFreshFor),
		zap.Duration("stale_balance_after", cfg.StaleBalanceAfter),
		zap.String("min_withdrawal", minWithdrawal.String()),
		zap.String("min_recharge", minRecharge.String()),
		zap.Duration("session_idle_ttl", cfg.SessionIdleTTL),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, observability.ServiceName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("ledger-api")

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	ledgerClient := client.NewLedgerClient(httpClient, cfg.LedgerAPIURL, cb, resilienceCfg, metrics, logger)

	// --- Notifications ---
	notifier := notify.NewLogNotifier(logger, 20)

	// --- Sessions ---
	sessions := service.NewSessionManager(
		func(token string) port.Ledger { return ledgerClient.Session(token) },
		service.SessionConfig{
			AccountFreshFor:      cfg.AccountFreshFor,
			MembershipsFreshFor:  cfg.MembershipsFreshFor,
			MyMembershipFreshFor: cfg.MyMembershipFreshFor,
			MaxRetries:           cfg.MaxRetries,
			InitialBackoff:       cfg.InitialBackoff,
			Limits: guard.Limits{
				MinWithdrawal: minWithdrawal,
				MinRecharge:   minRecharge,
				StaleAfter:    cfg.StaleBalanceAfter,
			},
		},
		cfg.SessionIdleTTL,
		cfg.JWTSecret,
		notifier,
		metrics,
		logger,
	)
	if err := sessions.Start(cfg.SessionSweepSpec); err != nil {
		logger.Fatal("failed to start session sweeper", zap.Error(err))
	}
	defer sessions.Stop()

	// --- Router ---
	router := handler.NewRouter(sessions, notifier, ledgerClient, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}
	if err := sessions.Drain(ctx); err != nil {
		logger.Warn("submissions still in flight at shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

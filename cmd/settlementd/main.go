package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/watershed-core/internal/config"
	"github.com/example/watershed-core/internal/database"
	"github.com/example/watershed-core/internal/ledger"
	"github.com/example/watershed-core/internal/loan"
	"github.com/example/watershed-core/internal/referral"
	"github.com/example/watershed-core/internal/reserve"
	"github.com/example/watershed-core/internal/settlement"
	"github.com/example/watershed-core/pkg/audit"
)

// settlementd runs the scheduled money-movement jobs: sweeping ad-revenue
// events into batches, clearing batches past their net term, expiring stale
// loans and referrals, and auditing ledger consistency.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	pool, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	chainStore, err := audit.OpenChainStore(getenv("SETTLEMENTD_AUDIT_DB_PATH", "settlementd-audit.db"))
	if err != nil {
		logger.Error("failed to open audit store", "error", err)
		os.Exit(1)
	}
	defer chainStore.Close()

	lastHash, err := chainStore.LastHash()
	if err != nil {
		logger.Error("failed to read audit chain head", "error", err)
		os.Exit(1)
	}
	auditor := audit.NewChainLoggerAt(lastHash).WithSink(chainStore, func(err error) {
		logger.Error("audit sink failure", "error", err)
	})

	store := ledger.NewStore(pool)
	validator := ledger.NewValidator(store)
	loans := loan.NewService(pool, loan.Config{
		FeeRate:           cfg.Platform.FeeRate,
		FundingWindowDays: cfg.Platform.LoanFundingWindowDays,
	}, auditor)
	settlements := settlement.NewService(pool, settlement.Config{
		PlatformShare: cfg.Platform.RevenuePlatformShare,
		NetTermDays:   cfg.Platform.SettlementNetTermDays,
	}, auditor)
	reserves := reserve.NewService(pool, reserve.Thresholds{
		Healthy: cfg.Platform.ReserveHealthyRatio,
		Watch:   cfg.Platform.ReserveWatchRatio,
	}, auditor)
	referrals := referral.NewService(pool, referral.Config{
		AdThreshold:           cfg.Platform.ReferralAdThreshold,
		ContributionThreshold: cfg.Platform.ReferralContributionThreshold,
		SignupCredit:          cfg.Platform.ReferralSignupCredit,
		ActionCredit:          cfg.Platform.ReferralActionCredit,
		ActivationWindowDays:  cfg.Platform.ReferralActivationWindowDays,
	}, auditor)

	c := cron.New()

	mustSchedule(c, logger, getenv("SETTLEMENT_SWEEP_SCHEDULE", "@every 15m"), "batch_sweep", func(ctx context.Context) {
		batch, err := settlements.CreateBatch(ctx, nil)
		if err != nil {
			logger.Error("batch sweep failed", "error", err)
			return
		}
		if batch == nil {
			logger.Info("batch sweep: nothing pending")
			return
		}
		logger.Info("batch created",
			"batch_id", batch.ID,
			"events", batch.AdViewCount,
			"gross", batch.TotalGross,
			"platform_cut", batch.TotalPlatformCut)
	})

	mustSchedule(c, logger, getenv("SETTLEMENT_CLEAR_SCHEDULE", "@hourly"), "clear_due", func(ctx context.Context) {
		due, err := settlements.DueBatches(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("due batch query failed", "error", err)
			return
		}
		for _, b := range due {
			if _, err := settlements.Clear(ctx, b.ID, ""); err != nil {
				logger.Error("batch clearing failed", "batch_id", b.ID, "error", err)
				continue
			}
			logger.Info("batch cleared", "batch_id", b.ID, "accrued", b.TotalPlatformCut)
		}
	})

	mustSchedule(c, logger, getenv("EXPIRY_SCHEDULE", "@hourly"), "expire_stale", func(ctx context.Context) {
		now := time.Now().UTC()
		if n, err := loans.ExpireStale(ctx, now); err != nil {
			logger.Error("loan expiry failed", "error", err)
		} else if n > 0 {
			logger.Info("loans expired", "count", n)
		}
		if n, err := referrals.ExpireStale(ctx, now); err != nil {
			logger.Error("referral expiry failed", "error", err)
		} else if n > 0 {
			logger.Info("referrals expired", "count", n)
		}
	})

	mustSchedule(c, logger, getenv("CONSISTENCY_SCHEDULE", "@daily"), "consistency_check", func(ctx context.Context) {
		health, err := reserves.Health(ctx)
		if err != nil {
			logger.Error("reserve health check failed", "error", err)
		} else {
			logger.Info("reserve health",
				"status", string(health.Status),
				"balance", health.Balance,
				"pending_disbursements", health.PendingDisbursements,
				"coverage_ratio", health.CoverageRatio)
		}

		reports, err := validator.CheckAll(ctx)
		if err != nil {
			logger.Error("ledger consistency check failed", "error", err)
			return
		}
		drifted := ledger.Drifted(reports)
		if len(drifted) == 0 {
			logger.Info("ledger consistent", "accounts", len(reports))
			return
		}
		for _, r := range drifted {
			logger.Error("ledger drift detected",
				"kind", string(r.Kind),
				"owner_ref", r.OwnerRef,
				"balance", r.Balance,
				"totals_delta", r.TotalsDelta,
				"log_delta", r.LogDelta)
		}
	})

	c.Start()
	logger.Info("settlementd running", "env", cfg.Environment)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Let in-flight jobs finish before exiting.
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("timed out waiting for jobs to finish")
	}
	logger.Info("settlementd stopped")
}

func mustSchedule(c *cron.Cron, logger *slog.Logger, spec, name string, job func(ctx context.Context)) {
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		job(ctx)
	})
	if err != nil {
		logger.Error("invalid schedule", "job", name, "spec", spec, "error", err)
		os.Exit(1)
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

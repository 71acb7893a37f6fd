package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/watershed-core/internal/api"
	"github.com/example/watershed-core/internal/config"
	"github.com/example/watershed-core/internal/database"
	"github.com/example/watershed-core/internal/ledger"
	"github.com/example/watershed-core/internal/loan"
	"github.com/example/watershed-core/internal/referral"
	"github.com/example/watershed-core/internal/reserve"
	"github.com/example/watershed-core/internal/security"
	"github.com/example/watershed-core/internal/settlement"
	"github.com/example/watershed-core/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	maxBody := int64(getenvInt("API_MAX_BODY_BYTES", 1<<20))

	allowCIDRs := strings.Split(getenv("API_IP_ALLOWLIST", ""), ",")
	allowlist, err := security.ParseCIDRAllowlist(allowCIDRs)
	if err != nil {
		logger.Error("invalid API_IP_ALLOWLIST", "error", err)
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	chainStore, err := audit.OpenChainStore(cfg.AuditDBPath)
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

	watershed := ledger.NewService(ledger.NewStore(pool), auditor)
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

	rateLimiter := &security.RedisTokenBucket{
		Redis:      redisClient,
		Prefix:     "watershed_api",
		Capacity:   getenvInt("API_RATE_LIMIT_CAPACITY", 20),
		RefillRate: float64(getenvInt("API_RATE_LIMIT_REFILL_PER_SEC", 10)),
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Watershed:    watershed,
		Loans:        loans,
		Settlements:  settlements,
		Reserve:      reserves,
		Referrals:    referrals,
		Auditor:      auditor,
		RateLimiter:  rateLimiter,
		IPAllowlist:  allowlist,
		Metrics:      api.NewMetrics(),
		MaxBodyBytes: maxBody,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("watershed api listening", "addr", cfg.APIAddr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
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

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

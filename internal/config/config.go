// Package config loads platform configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/example/watershed-core/internal/money"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	DatabaseURL string
	RedisAddr   string
	APIAddr     string
	AuditDBPath string

	Platform Platform
}

// Platform holds the money-movement constants. Thresholds are configuration,
// not computed values.
type Platform struct {
	// FeeRate is the loan servicing fee rate taken out of each repayment.
	FeeRate float64
	// RevenuePlatformShare is the platform's cut of gross ad revenue; the
	// remainder is credited to the viewer's watershed.
	RevenuePlatformShare float64
	// SettlementNetTermDays delays recognition of batched ad revenue.
	SettlementNetTermDays int

	ReserveHealthyRatio float64
	ReserveWatchRatio   float64

	ReferralAdThreshold           int64
	ReferralContributionThreshold money.Cents
	ReferralSignupCredit          money.Cents
	ReferralActionCredit          money.Cents
	ReferralActivationWindowDays  int

	LoanFundingWindowDays int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getenv("APP_ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
		APIAddr:     getenv("API_ADDR", ":8080"),
		AuditDBPath: getenv("AUDIT_DB_PATH", "audit.db"),
		Platform: Platform{
			FeeRate:                       getenvFloat("PLATFORM_FEE_RATE", 0.02),
			RevenuePlatformShare:          getenvFloat("REVENUE_PLATFORM_SHARE", 0.40),
			SettlementNetTermDays:         getenvInt("SETTLEMENT_NET_TERM_DAYS", 30),
			ReserveHealthyRatio:           getenvFloat("RESERVE_HEALTHY_RATIO", 1.0),
			ReserveWatchRatio:             getenvFloat("RESERVE_WATCH_RATIO", 0.5),
			ReferralAdThreshold:           int64(getenvInt("REFERRAL_AD_THRESHOLD", 10)),
			ReferralContributionThreshold: money.Cents(getenvInt("REFERRAL_CONTRIBUTION_THRESHOLD_CENTS", 500)),
			ReferralSignupCredit:          money.Cents(getenvInt("REFERRAL_SIGNUP_CREDIT_CENTS", 100)),
			ReferralActionCredit:          money.Cents(getenvInt("REFERRAL_ACTION_CREDIT_CENTS", 250)),
			ReferralActivationWindowDays:  getenvInt("REFERRAL_ACTIVATION_WINDOW_DAYS", 90),
			LoanFundingWindowDays:         getenvInt("LOAN_FUNDING_WINDOW_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is complete and internally sane.
func (c *Config) Validate() error {
	var missing []string

	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	p := c.Platform
	if p.FeeRate < 0 || p.FeeRate >= 1 {
		return fmt.Errorf("PLATFORM_FEE_RATE must be in [0, 1), got %v", p.FeeRate)
	}
	if p.RevenuePlatformShare < 0 || p.RevenuePlatformShare > 1 {
		return fmt.Errorf("REVENUE_PLATFORM_SHARE must be in [0, 1], got %v", p.RevenuePlatformShare)
	}
	if p.SettlementNetTermDays < 0 {
		return fmt.Errorf("SETTLEMENT_NET_TERM_DAYS must be >= 0, got %d", p.SettlementNetTermDays)
	}
	if p.ReserveWatchRatio > p.ReserveHealthyRatio {
		return fmt.Errorf("RESERVE_WATCH_RATIO (%v) must not exceed RESERVE_HEALTHY_RATIO (%v)",
			p.ReserveWatchRatio, p.ReserveHealthyRatio)
	}
	if p.ReferralSignupCredit < 0 || p.ReferralActionCredit < 0 {
		return errors.New("referral credits must not be negative")
	}
	return nil
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

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

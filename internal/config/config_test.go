package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/watershed-core/internal/money"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/watershed")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 0.02, cfg.Platform.FeeRate)
	assert.Equal(t, 0.40, cfg.Platform.RevenuePlatformShare)
	assert.Equal(t, 30, cfg.Platform.SettlementNetTermDays)
	assert.Equal(t, money.Cents(250), cfg.Platform.ReferralActionCredit)
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/watershed")
	t.Setenv("PLATFORM_FEE_RATE", "0.05")
	t.Setenv("SETTLEMENT_NET_TERM_DAYS", "14")
	t.Setenv("REFERRAL_AD_THRESHOLD", "25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.05, cfg.Platform.FeeRate)
	assert.Equal(t, 14, cfg.Platform.SettlementNetTermDays)
	assert.Equal(t, int64(25), cfg.Platform.ReferralAdThreshold)
}

func TestValidateRejectsBadRates(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/watershed")
	t.Setenv("PLATFORM_FEE_RATE", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLATFORM_FEE_RATE")
}

func TestValidateRejectsInvertedReserveThresholds(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/watershed")
	t.Setenv("RESERVE_WATCH_RATIO", "2.0")
	t.Setenv("RESERVE_HEALTHY_RATIO", "1.0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESERVE_WATCH_RATIO")
}

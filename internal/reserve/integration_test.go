package reserve

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/watershed-core/internal/database"
	"github.com/example/watershed-core/internal/ledger"
	"github.com/example/watershed-core/internal/money"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres integration test")
	}
	require.NoError(t, database.Migrate(url))
	pool, err := database.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestIntegrationAccrueAndDisburse(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	svc := NewService(pool, Thresholds{Healthy: 1.0, Watch: 0.5}, nil)

	before, err := svc.Account(ctx)
	require.NoError(t, err)

	balance, err := svc.Accrue(ctx, 5000, uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, before.Balance+5000, balance)

	ref := uuid.NewString()
	require.NoError(t, svc.RecordObligation(ctx, ref, 2000))
	// Recording the same obligation again is a no-op.
	require.NoError(t, svc.RecordObligation(ctx, ref, 2000))

	balance, err = svc.FrontDisbursement(ctx, 2000, ref)
	require.NoError(t, err)
	assert.Equal(t, before.Balance+3000, balance)

	// An impossible disbursement is rejected without touching the balance.
	_, err = svc.FrontDisbursement(ctx, balance+1, uuid.NewString())
	assert.ErrorIs(t, err, ErrInsufficientReserve)

	account, err := svc.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, balance, account.Balance)
}

func TestIntegrationAdjust(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	svc := NewService(pool, Thresholds{Healthy: 1.0, Watch: 0.5}, nil)

	before, err := svc.Account(ctx)
	require.NoError(t, err)

	balance, err := svc.Adjust(ctx, 1000, "manual top-up")
	require.NoError(t, err)
	assert.Equal(t, before.Balance+1000, balance)

	after, err := svc.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.TotalReplenished+1000, after.TotalReplenished)

	balance, err = svc.Adjust(ctx, -400, "manual correction")
	require.NoError(t, err)
	assert.Equal(t, before.Balance+600, balance)

	_, err = svc.Adjust(ctx, 0, "no-op")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestIntegrationHealth(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	svc := NewService(pool, Thresholds{Healthy: 1.0, Watch: 0.5}, nil)

	// Ensure some balance and a known pending obligation exist.
	_, err := svc.Accrue(ctx, 10000, uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, svc.RecordObligation(ctx, uuid.NewString(), 1000))

	health, err := svc.Health(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, health.Balance, money.Cents(10000))
	assert.GreaterOrEqual(t, health.PendingDisbursements, money.Cents(1000))
	assert.NotEmpty(t, health.Status)

	_, status := Classify(health.Balance, health.PendingDisbursements, Thresholds{Healthy: 1.0, Watch: 0.5})
	assert.Equal(t, status, health.Status)
}

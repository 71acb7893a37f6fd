package settlement

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

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

func reserveBalance(t *testing.T, pool *pgxpool.Pool) money.Cents {
	t.Helper()
	account, err := ledger.NewStore(pool).GetOrCreateAccount(context.Background(),
		ledger.KindReserve, ledger.ReserveOwner)
	require.NoError(t, err)
	return account.Balance
}

func TestIntegrationRecordAdView(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	svc := NewService(pool, Config{PlatformShare: 0.40, NetTermDays: 30}, nil)
	userID := uuid.NewString()

	event, err := svc.RecordAdView(ctx, userID, 1000)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(1000), event.GrossRevenue)
	assert.Equal(t, money.Cents(400), event.PlatformCut)
	assert.Equal(t, money.Cents(600), event.WatershedCredit)
	assert.Equal(t, StatusPending, event.SettlementStatus)
	assert.Nil(t, event.SettlementID)

	// The viewer's share lands in their watershed in the same commit.
	account, err := ledger.NewStore(pool).GetOrCreateAccount(ctx, ledger.KindWatershed, userID)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(600), account.Balance)
}

func TestIntegrationBatchAndClear(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	svc := NewService(pool, Config{PlatformShare: 0.40, NetTermDays: 30}, nil)

	// Sweep any leftovers so the next batch holds exactly our events.
	_, err := svc.CreateBatch(ctx, nil)
	require.NoError(t, err)

	// Three views of 10.00 each: gross 30.00, platform cut 12.00.
	userID := uuid.NewString()
	for i := 0; i < 3; i++ {
		_, err := svc.RecordAdView(ctx, userID, 1000)
		require.NoError(t, err)
	}

	batch, err := svc.CreateBatch(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, money.Cents(3000), batch.TotalGross)
	assert.Equal(t, money.Cents(1200), batch.TotalPlatformCut)
	assert.Equal(t, money.Cents(1800), batch.TotalWatershedCredit)
	assert.Equal(t, 3, batch.AdViewCount)
	assert.Equal(t, StatusPending, batch.Status)

	// Nothing left to batch.
	empty, err := svc.CreateBatch(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, empty)

	before := reserveBalance(t, pool)

	cleared, err := svc.Clear(ctx, batch.ID, "provider-123")
	require.NoError(t, err)
	assert.Equal(t, StatusCleared, cleared.Status)
	assert.NotNil(t, cleared.ClearedAt)
	require.NotNil(t, cleared.ProviderRef)
	assert.Equal(t, "provider-123", *cleared.ProviderRef)

	// Clearing accrues exactly the platform cut into the reserve and
	// flips every linked event.
	assert.Equal(t, before+1200, reserveBalance(t, pool))

	var pendingLinked int
	err = pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ad_revenue_events
		 WHERE settlement_id = $1 AND settlement_status != 'cleared'`, batch.ID).Scan(&pendingLinked)
	require.NoError(t, err)
	assert.Equal(t, 0, pendingLinked)

	// Clearing again is a no-op: no double accrual.
	_, err = svc.Clear(ctx, batch.ID, "")
	require.NoError(t, err)
	assert.Equal(t, before+1200, reserveBalance(t, pool))
}

func TestIntegrationConcurrentBatchClaim(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	svc := NewService(pool, Config{PlatformShare: 0.40, NetTermDays: 30}, nil)

	_, err := svc.CreateBatch(ctx, nil)
	require.NoError(t, err)

	var eventIDs []string
	for i := 0; i < 5; i++ {
		event, err := svc.RecordAdView(ctx, uuid.NewString(), 1000)
		require.NoError(t, err)
		eventIDs = append(eventIDs, event.ID)
	}

	// Two racing batch creations: every event must land in exactly one
	// batch.
	var wg sync.WaitGroup
	batches := make([]*Batch, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			batches[i], errs[i] = svc.CreateBatch(ctx, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
	}

	claimed := 0
	for _, b := range batches {
		if b != nil {
			claimed += b.AdViewCount
		}
	}
	assert.Equal(t, 5, claimed, "five events claimed exactly once across both calls")

	for _, id := range eventIDs {
		var settlementID *string
		err := pool.QueryRow(ctx,
			`SELECT settlement_id FROM ad_revenue_events WHERE id = $1`, id).Scan(&settlementID)
		require.NoError(t, err)
		assert.NotNil(t, settlementID)
	}
}

func TestIntegrationDueBatches(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	svc := NewService(pool, Config{PlatformShare: 0.40, NetTermDays: 30}, nil)

	_, err := svc.CreateBatch(ctx, nil)
	require.NoError(t, err)
	_, err = svc.RecordAdView(ctx, uuid.NewString(), 1000)
	require.NoError(t, err)

	batch, err := svc.CreateBatch(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, batch)

	due, err := svc.DueBatches(ctx, time.Now().UTC())
	require.NoError(t, err)
	for _, b := range due {
		assert.NotEqual(t, batch.ID, b.ID, "a fresh batch is not yet due")
	}

	afterTerm := time.Now().UTC().AddDate(0, 0, 31)
	due, err = svc.DueBatches(ctx, afterTerm)
	require.NoError(t, err)
	found := false
	for _, b := range due {
		if b.ID == batch.ID {
			found = true
		}
	}
	assert.True(t, found, "batch is due once its net term has passed")
}

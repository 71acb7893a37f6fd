package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/watershed-core/internal/ledger"
	"github.com/example/watershed-core/internal/loan"
	"github.com/example/watershed-core/internal/money"
	"github.com/example/watershed-core/internal/referral"
	"github.com/example/watershed-core/internal/reserve"
	"github.com/example/watershed-core/internal/security"
	"github.com/example/watershed-core/internal/settlement"
)

type fakeWatershed struct {
	balance   money.Cents
	lastLimit int
	err       error
}

func (f *fakeWatershed) Credit(ctx context.Context, req ledger.CreditRequest) (*ledger.BalanceResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.balance += req.Amount
	return &ledger.BalanceResult{UserID: req.UserID, NewBalance: f.balance}, nil
}

func (f *fakeWatershed) Debit(ctx context.Context, req ledger.DebitRequest) (*ledger.BalanceResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if req.Amount > f.balance {
		return nil, ledger.ErrInsufficientFunds
	}
	f.balance -= req.Amount
	return &ledger.BalanceResult{UserID: req.UserID, NewBalance: f.balance}, nil
}

func (f *fakeWatershed) Balance(ctx context.Context, userID string) (*ledger.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.Account{OwnerRef: userID, Kind: ledger.KindWatershed, Balance: f.balance}, nil
}

func (f *fakeWatershed) Transactions(ctx context.Context, userID string, limit int) ([]*ledger.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastLimit = limit
	return []*ledger.Transaction{{Type: ledger.TypeAdView, Amount: 100, BalanceAfter: f.balance}}, nil
}

type fakeLoans struct {
	loan *loan.Loan
	err  error
}

func (f *fakeLoans) Create(ctx context.Context, req loan.CreateRequest) (*loan.Loan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.loan, nil
}

func (f *fakeLoans) Get(ctx context.Context, loanID string) (*loan.Loan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.loan, nil
}

func (f *fakeLoans) Fund(ctx context.Context, loanID, funderID string, shares int64) (*loan.FundResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &loan.FundResult{SharesBought: shares, Cost: money.Cents(shares) * 1000}, nil
}

func (f *fakeLoans) Repay(ctx context.Context, loanID string) (*loan.RepayResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &loan.RepayResult{Payment: 5000, PrincipalPaid: 4900, ServicingFee: 100}, nil
}

func (f *fakeLoans) Sponsor(ctx context.Context, loanID, sponsorID string) (*loan.Sponsorship, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &loan.Sponsorship{LoanID: loanID, SponsorID: sponsorID, Amount: 2500}, nil
}

func (f *fakeLoans) ResolveStretchGoals(ctx context.Context, loanID string) (*loan.FundingDistribution, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &loan.FundingDistribution{}, nil
}

type fakeSettlements struct {
	batch *settlement.Batch
	err   error
}

func (f *fakeSettlements) RecordAdView(ctx context.Context, userID string, gross money.Cents) (*settlement.AdRevenueEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	cut, credit := settlement.SplitRevenue(gross, 0.40)
	return &settlement.AdRevenueEvent{UserID: userID, GrossRevenue: gross, PlatformCut: cut, WatershedCredit: credit}, nil
}

func (f *fakeSettlements) CreateBatch(ctx context.Context, before *time.Time) (*settlement.Batch, error) {
	return f.batch, f.err
}

func (f *fakeSettlements) Clear(ctx context.Context, batchID, providerRef string) (*settlement.Batch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

func (f *fakeSettlements) GetBatch(ctx context.Context, batchID string) (*settlement.Batch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

type fakeReserve struct {
	health *reserve.Health
	err    error
}

func (f *fakeReserve) Health(ctx context.Context) (*reserve.Health, error) {
	return f.health, f.err
}

func (f *fakeReserve) Adjust(ctx context.Context, amount money.Cents, description string) (money.Cents, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.health.Balance + amount, nil
}

type fakeReferrals struct {
	referral *referral.Referral
	err      error
}

func (f *fakeReferrals) Create(ctx context.Context, referrerID, referredID string) (*referral.Referral, error) {
	return f.referral, f.err
}

func (f *fakeReferrals) MarkSignedUp(ctx context.Context, referredID string) (*referral.Referral, error) {
	return f.referral, f.err
}

func (f *fakeReferrals) CheckFirstAction(ctx context.Context, userID string) (*referral.Referral, error) {
	return f.referral, f.err
}

func testDeps() Dependencies {
	return Dependencies{
		Watershed:   &fakeWatershed{},
		Loans:       &fakeLoans{loan: &loan.Loan{ID: "loan-1", Status: loan.StatusFunding}},
		Settlements: &fakeSettlements{batch: &settlement.Batch{ID: "batch-1", Status: settlement.StatusPending}},
		Reserve:     &fakeReserve{health: &reserve.Health{Balance: 10000, Status: reserve.StatusHealthy}},
		Referrals:   &fakeReferrals{referral: &referral.Referral{ID: "ref-1", Status: referral.StatusPending}},
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterCredit(t *testing.T) {
	h, err := NewRouter(testDeps())
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/v1/watershed/u1/credit", map[string]any{
		"amount": 1000, "type": "ad_view", "description": "test",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp balanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, money.Cents(1000), resp.NewBalance)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Equal(t, resp.CorrelationID, rec.Header().Get(security.CorrelationIDHeader))
}

func TestRouterCreditRejectsBadAmount(t *testing.T) {
	h, err := NewRouter(testDeps())
	require.NoError(t, err)

	// Schema validation rejects non-positive amounts before the handler.
	rec := doJSON(t, h, http.MethodPost, "/v1/watershed/u1/credit", map[string]any{"amount": -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_error")

	rec = doJSON(t, h, http.MethodPost, "/v1/watershed/u1/credit", map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterDebitInsufficientFunds(t *testing.T) {
	h, err := NewRouter(testDeps())
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/v1/watershed/u1/debit", map[string]any{"amount": 500})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient_funds")
}

func TestRouterTransactionsLimitCapped(t *testing.T) {
	deps := testDeps()
	fw := &fakeWatershed{}
	deps.Watershed = fw
	h, err := NewRouter(deps)
	require.NoError(t, err)

	// An absurd limit from the query string is clamped before it reaches
	// the store.
	rec := doJSON(t, h, http.MethodGet, "/v1/watershed/u1/transactions?limit=1000000000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxTransactionLimit, fw.lastLimit)

	rec = doJSON(t, h, http.MethodGet, "/v1/watershed/u1/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultTransactionLimit, fw.lastLimit)
}

func TestRouterErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", loan.ErrLoanNotFound, http.StatusNotFound, "not_found"},
		{"not fundable", loan.ErrNotFundable, http.StatusConflict, "invalid_state"},
		{"self funding", loan.ErrSelfFunding, http.StatusConflict, "invalid_state"},
		{"insufficient", ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
		{"invalid amount", ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
		{"internal", fmt.Errorf("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := testDeps()
			deps.Loans = &fakeLoans{err: tc.err}
			h, err := NewRouter(deps)
			require.NoError(t, err)

			rec := doJSON(t, h, http.MethodPost, "/v1/loans/loan-1/fund", map[string]any{
				"funder_id": "u2", "shares": 5,
			})
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.wantCode)
		})
	}
}

func TestRouterCreateBatchNoContent(t *testing.T) {
	deps := testDeps()
	deps.Settlements = &fakeSettlements{batch: nil}
	h, err := NewRouter(deps)
	require.NoError(t, err)

	// Nothing to batch returns 204, not an empty 201.
	rec := doJSON(t, h, http.MethodPost, "/v1/settlements/", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRouterReserveHealth(t *testing.T) {
	h, err := NewRouter(testDeps())
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodGet, "/v1/reserve/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp reserveHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, reserve.StatusHealthy, resp.Health.Status)
}

func TestRouterReferralCheckNotActivated(t *testing.T) {
	deps := testDeps()
	deps.Referrals = &fakeReferrals{referral: nil}
	h, err := NewRouter(deps)
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/v1/referrals/check-first-action", map[string]any{"user_id": "u9"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp referralResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Activated)
	assert.Nil(t, resp.Referral)
}

func TestRouterRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	deps := testDeps()
	deps.RateLimiter = &security.RedisTokenBucket{
		Redis:      client,
		Prefix:     "ratelimit",
		Capacity:   2,
		RefillRate: 0.001,
	}
	h, err := NewRouter(deps)
	require.NoError(t, err)

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.1.2.3:55555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())
}

func TestRouterMetricsEndpoint(t *testing.T) {
	deps := testDeps()
	deps.Metrics = NewMetrics()
	h, err := NewRouter(deps)
	require.NoError(t, err)

	// Generate one observation, then scrape.
	doJSON(t, h, http.MethodGet, "/healthz", nil)

	rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRouterUnknownRoute(t *testing.T) {
	h, err := NewRouter(testDeps())
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodGet, "/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

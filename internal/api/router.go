package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/watershed-core/internal/ledger"
	"github.com/example/watershed-core/internal/loan"
	"github.com/example/watershed-core/internal/money"
	"github.com/example/watershed-core/internal/referral"
	"github.com/example/watershed-core/internal/reserve"
	"github.com/example/watershed-core/internal/security"
	"github.com/example/watershed-core/internal/settlement"
	"github.com/example/watershed-core/pkg/audit"
)

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// Dependencies wires the routers' handlers to the domain services. The
// narrow interfaces keep handler tests on small fakes.
type Dependencies struct {
	Logger *slog.Logger

	Watershed interface {
		Credit(ctx context.Context, req ledger.CreditRequest) (*ledger.BalanceResult, error)
		Debit(ctx context.Context, req ledger.DebitRequest) (*ledger.BalanceResult, error)
		Balance(ctx context.Context, userID string) (*ledger.Account, error)
		Transactions(ctx context.Context, userID string, limit int) ([]*ledger.Transaction, error)
	}
	Loans interface {
		Create(ctx context.Context, req loan.CreateRequest) (*loan.Loan, error)
		Get(ctx context.Context, loanID string) (*loan.Loan, error)
		Fund(ctx context.Context, loanID, funderID string, requestedShares int64) (*loan.FundResult, error)
		Repay(ctx context.Context, loanID string) (*loan.RepayResult, error)
		Sponsor(ctx context.Context, loanID, sponsorID string) (*loan.Sponsorship, error)
		ResolveStretchGoals(ctx context.Context, loanID string) (*loan.FundingDistribution, error)
	}
	Settlements interface {
		RecordAdView(ctx context.Context, userID string, gross money.Cents) (*settlement.AdRevenueEvent, error)
		CreateBatch(ctx context.Context, before *time.Time) (*settlement.Batch, error)
		Clear(ctx context.Context, batchID, providerRef string) (*settlement.Batch, error)
		GetBatch(ctx context.Context, batchID string) (*settlement.Batch, error)
	}
	Reserve interface {
		Health(ctx context.Context) (*reserve.Health, error)
		Adjust(ctx context.Context, amount money.Cents, description string) (money.Cents, error)
	}
	Referrals interface {
		Create(ctx context.Context, referrerID, referredID string) (*referral.Referral, error)
		MarkSignedUp(ctx context.Context, referredID string) (*referral.Referral, error)
		CheckFirstAction(ctx context.Context, userID string) (*referral.Referral, error)
	}

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	Metrics      *Metrics
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ledgerEntryV, err := security.NewJSONSchemaValidator(ledgerEntrySchema)
	if err != nil {
		return nil, err
	}
	createLoanV, err := security.NewJSONSchemaValidator(createLoanSchema)
	if err != nil {
		return nil, err
	}
	fundLoanV, err := security.NewJSONSchemaValidator(fundLoanSchema)
	if err != nil {
		return nil, err
	}
	sponsorLoanV, err := security.NewJSONSchemaValidator(sponsorLoanSchema)
	if err != nil {
		return nil, err
	}
	adViewV, err := security.NewJSONSchemaValidator(adViewSchema)
	if err != nil {
		return nil, err
	}
	adjustV, err := security.NewJSONSchemaValidator(reserveAdjustSchema)
	if err != nil {
		return nil, err
	}
	createReferralV, err := security.NewJSONSchemaValidator(createReferralSchema)
	if err != nil {
		return nil, err
	}
	signupV, err := security.NewJSONSchemaValidator(referralSignupSchema)
	if err != nil {
		return nil, err
	}
	checkV, err := security.NewJSONSchemaValidator(referralCheckSchema)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/watershed/{userID}", func(r chi.Router) {
			r.Get("/", handleGetWatershed(deps))
			r.Get("/transactions", handleListTransactions(deps))
			r.With(ledgerEntryV.Middleware).Post("/credit", handleCredit(deps))
			r.With(ledgerEntryV.Middleware).Post("/debit", handleDebit(deps))
		})

		r.Route("/loans", func(r chi.Router) {
			r.With(createLoanV.Middleware).Post("/", handleCreateLoan(deps))
			r.Get("/{loanID}", handleGetLoan(deps))
			r.With(fundLoanV.Middleware).Post("/{loanID}/fund", handleFundLoan(deps))
			r.Post("/{loanID}/repay", handleRepayLoan(deps))
			r.With(sponsorLoanV.Middleware).Post("/{loanID}/sponsor", handleSponsorLoan(deps))
			r.Post("/{loanID}/stretch-goals/resolve", handleResolveStretchGoals(deps))
		})

		r.With(adViewV.Middleware).Post("/ad-views", handleRecordAdView(deps))

		r.Route("/settlements", func(r chi.Router) {
			r.Post("/", handleCreateBatch(deps))
			r.Get("/{batchID}", handleGetBatch(deps))
			r.Post("/{batchID}/clear", handleClearBatch(deps))
		})

		r.Route("/reserve", func(r chi.Router) {
			r.Get("/health", handleReserveHealth(deps))
			r.With(adjustV.Middleware).Post("/adjust", handleReserveAdjust(deps))
		})

		r.Route("/referrals", func(r chi.Router) {
			r.With(createReferralV.Middleware).Post("/", handleCreateReferral(deps))
			r.With(signupV.Middleware).Post("/signup", handleReferralSignup(deps))
			r.With(checkV.Middleware).Post("/check-first-action", handleReferralCheck(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

func rateLimitKeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/example/watershed-core/internal/ledger"
	"github.com/example/watershed-core/internal/loan"
	"github.com/example/watershed-core/internal/money"
	"github.com/example/watershed-core/internal/security"
)

type ledgerEntryRequest struct {
	Amount      money.Cents `json:"amount"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
}

type balanceResponse struct {
	CorrelationID string      `json:"correlation_id"`
	UserID        string      `json:"user_id"`
	NewBalance    money.Cents `json:"new_balance"`
}

func handleCredit(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		var req ledgerEntryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		if req.Type == "" {
			req.Type = ledger.TypeContribution
		}

		res, err := deps.Watershed.Credit(r.Context(), ledger.CreditRequest{
			UserID:      userID,
			Amount:      req.Amount,
			Type:        req.Type,
			Description: req.Description,
		})
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, balanceResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			UserID:        res.UserID,
			NewBalance:    res.NewBalance,
		})
	}
}

func handleDebit(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		var req ledgerEntryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		if req.Type == "" {
			req.Type = ledger.TypeContribution
		}

		res, err := deps.Watershed.Debit(r.Context(), ledger.DebitRequest{
			UserID:      userID,
			Amount:      req.Amount,
			Type:        req.Type,
			Description: req.Description,
		})
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, balanceResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			UserID:        res.UserID,
			NewBalance:    res.NewBalance,
		})
	}
}

type accountResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Account       *ledger.Account `json:"account"`
}

func handleGetWatershed(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := deps.Watershed.Balance(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, accountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       account,
		})
	}
}

type transactionsResponse struct {
	CorrelationID string                `json:"correlation_id"`
	Transactions  []*ledger.Transaction `json:"transactions"`
}

// Transaction listing defaults to a page of 50 and never passes more than
// maxTransactionLimit through to the store, whatever the query string asks.
const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 500
)

func handleListTransactions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultTransactionLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if i, err := strconv.Atoi(v); err == nil && i > 0 {
				limit = i
			}
		}
		if limit > maxTransactionLimit {
			limit = maxTransactionLimit
		}

		txs, err := deps.Watershed.Transactions(r.Context(), chi.URLParam(r, "userID"), limit)
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, transactionsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Transactions:  txs,
		})
	}
}

type createLoanRequest struct {
	BorrowerID        string        `json:"borrower_id"`
	Amount            money.Cents   `json:"amount"`
	SharePrice        money.Cents   `json:"share_price"`
	MonthlyPayment    money.Cents   `json:"monthly_payment"`
	SponsorshipAmount money.Cents   `json:"sponsorship_amount"`
	SeekingSponsor    bool          `json:"seeking_sponsor"`
	StretchGoals      []money.Cents `json:"stretch_goals"`
}

type loanResponse struct {
	CorrelationID string     `json:"correlation_id"`
	Loan          *loan.Loan `json:"loan"`
}

func handleCreateLoan(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createLoanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		created, err := deps.Loans.Create(r.Context(), loan.CreateRequest{
			BorrowerID:        req.BorrowerID,
			Amount:            req.Amount,
			SharePrice:        req.SharePrice,
			MonthlyPayment:    req.MonthlyPayment,
			SponsorshipAmount: req.SponsorshipAmount,
			SeekingSponsor:    req.SeekingSponsor,
			StretchGoals:      req.StretchGoals,
		})
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, loanResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Loan:          created,
		})
	}
}

func handleGetLoan(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := deps.Loans.Get(r.Context(), chi.URLParam(r, "loanID"))
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, loanResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Loan:          l,
		})
	}
}

type fundLoanRequest struct {
	FunderID string `json:"funder_id"`
	Shares   int64  `json:"shares"`
}

type fundLoanResponse struct {
	CorrelationID string           `json:"correlation_id"`
	Result        *loan.FundResult `json:"result"`
}

func handleFundLoan(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req fundLoanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		res, err := deps.Loans.Fund(r.Context(), chi.URLParam(r, "loanID"), req.FunderID, req.Shares)
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, fundLoanResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Result:        res,
		})
	}
}

type repayLoanResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Result        *loan.RepayResult `json:"result"`
}

func handleRepayLoan(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Loans.Repay(r.Context(), chi.URLParam(r, "loanID"))
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, repayLoanResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Result:        res,
		})
	}
}

type sponsorLoanRequest struct {
	SponsorID string `json:"sponsor_id"`
}

type sponsorLoanResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Sponsorship   *loan.Sponsorship `json:"sponsorship"`
}

func handleSponsorLoan(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sponsorLoanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		sp, err := deps.Loans.Sponsor(r.Context(), chi.URLParam(r, "loanID"), req.SponsorID)
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, sponsorLoanResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Sponsorship:   sp,
		})
	}
}

type stretchGoalsResponse struct {
	CorrelationID string                    `json:"correlation_id"`
	Distribution  *loan.FundingDistribution `json:"distribution"`
}

func handleResolveStretchGoals(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dist, err := deps.Loans.ResolveStretchGoals(r.Context(), chi.URLParam(r, "loanID"))
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, stretchGoalsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Distribution:  dist,
		})
	}
}

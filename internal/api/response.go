package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/watershed-core/internal/ledger"
	"github.com/example/watershed-core/internal/loan"
	"github.com/example/watershed-core/internal/referral"
	"github.com/example/watershed-core/internal/reserve"
	"github.com/example/watershed-core/internal/security"
	"github.com/example/watershed-core/internal/settlement"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps typed business errors onto HTTP statuses.
// Business-rule rejections surface their code verbatim; anything unexpected
// logs the full context server-side and returns a generic body.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_amount")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		security.WriteJSONError(w, r, http.StatusUnprocessableEntity, "insufficient_funds")
	case errors.Is(err, reserve.ErrInsufficientReserve):
		security.WriteJSONError(w, r, http.StatusUnprocessableEntity, "insufficient_reserve")
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, loan.ErrLoanNotFound),
		errors.Is(err, settlement.ErrBatchNotFound),
		errors.Is(err, referral.ErrReferralNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, loan.ErrNotFundable),
		errors.Is(err, loan.ErrSelfFunding),
		errors.Is(err, loan.ErrNotRepayable),
		errors.Is(err, loan.ErrAlreadyRepaid),
		errors.Is(err, loan.ErrNotSeekingSponsor),
		errors.Is(err, referral.ErrAlreadyReferred),
		errors.Is(err, referral.ErrInvalidTransition):
		security.WriteJSONError(w, r, http.StatusConflict, "invalid_state")
	default:
		if logger != nil {
			logger.Error("internal_error",
				"cid", security.CorrelationIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
		}
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

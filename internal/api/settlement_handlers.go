package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/watershed-core/internal/money"
	"github.com/example/watershed-core/internal/referral"
	"github.com/example/watershed-core/internal/reserve"
	"github.com/example/watershed-core/internal/security"
	"github.com/example/watershed-core/internal/settlement"
)

type adViewRequest struct {
	UserID       string      `json:"user_id"`
	GrossRevenue money.Cents `json:"gross_revenue"`
}

type adViewResponse struct {
	CorrelationID string                     `json:"correlation_id"`
	Event         *settlement.AdRevenueEvent `json:"event"`
}

func handleRecordAdView(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adViewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		event, err := deps.Settlements.RecordAdView(r.Context(), req.UserID, req.GrossRevenue)
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, adViewResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Event:         event,
		})
	}
}

type createBatchRequest struct {
	Before *time.Time `json:"before,omitempty"`
}

type batchResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Batch         *settlement.Batch `json:"batch"`
}

func handleCreateBatch(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBatchRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
				return
			}
		}

		batch, err := deps.Settlements.CreateBatch(r.Context(), req.Before)
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}
		if batch == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		writeJSON(w, r, http.StatusCreated, batchResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Batch:         batch,
		})
	}
}

func handleGetBatch(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batch, err := deps.Settlements.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, batchResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Batch:         batch,
		})
	}
}

type clearBatchRequest struct {
	ProviderRef string `json:"provider_ref"`
}

func handleClearBatch(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clearBatchRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
				return
			}
		}

		batch, err := deps.Settlements.Clear(r.Context(), chi.URLParam(r, "batchID"), req.ProviderRef)
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, batchResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Batch:         batch,
		})
	}
}

type reserveHealthResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Health        *reserve.Health `json:"health"`
}

func handleReserveHealth(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health, err := deps.Reserve.Health(r.Context())
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, reserveHealthResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Health:        health,
		})
	}
}

type reserveAdjustRequest struct {
	Amount      money.Cents `json:"amount"`
	Description string      `json:"description"`
}

type reserveAdjustResponse struct {
	CorrelationID string      `json:"correlation_id"`
	NewBalance    money.Cents `json:"new_balance"`
}

func handleReserveAdjust(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reserveAdjustRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		balance, err := deps.Reserve.Adjust(r.Context(), req.Amount, req.Description)
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, reserveAdjustResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			NewBalance:    balance,
		})
	}
}

type createReferralRequest struct {
	ReferrerID string `json:"referrer_id"`
	ReferredID string `json:"referred_id"`
}

type referralResponse struct {
	CorrelationID string             `json:"correlation_id"`
	Referral      *referral.Referral `json:"referral,omitempty"`
	Activated     bool               `json:"activated"`
}

func handleCreateReferral(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createReferralRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		ref, err := deps.Referrals.Create(r.Context(), req.ReferrerID, req.ReferredID)
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, referralResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Referral:      ref,
		})
	}
}

type referralSignupRequest struct {
	ReferredID string `json:"referred_id"`
}

func handleReferralSignup(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req referralSignupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		ref, err := deps.Referrals.MarkSignedUp(r.Context(), req.ReferredID)
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, referralResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Referral:      ref,
		})
	}
}

type referralCheckRequest struct {
	UserID string `json:"user_id"`
}

func handleReferralCheck(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req referralCheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		ref, err := deps.Referrals.CheckFirstAction(r.Context(), req.UserID)
		if err != nil {
			writeDomainError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, r, http.StatusOK, referralResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Referral:      ref,
			Activated:     ref != nil,
		})
	}
}

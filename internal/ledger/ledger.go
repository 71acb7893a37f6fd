// Package ledger implements the balance ledgers at the heart of the
// platform: per-user watershed accounts and the platform reserve. Every
// mutation pairs a signed balance delta with an immutable transaction record
// written in the same database transaction.
package ledger

import (
	"errors"
	"time"

	"github.com/example/watershed-core/internal/money"
)

// AccountKind distinguishes the two concrete ledger instances.
type AccountKind string

const (
	KindWatershed AccountKind = "watershed"
	KindReserve   AccountKind = "reserve"
)

// ReserveOwner is the well-known owner ref of the singleton reserve account.
const ReserveOwner = "platform"

// Transaction type tags identify the operation that caused a mutation.
const (
	TypeAdView              = "ad_view"
	TypeContribution        = "contribution"
	TypeLoanFunding         = "loan_funding"
	TypeLoanDisbursement    = "loan_disbursement"
	TypeLoanRepayment       = "loan_repayment"
	TypeLoanSponsorship     = "loan_sponsorship"
	TypeReferralSignup      = "referral_signup"
	TypeReferralAction      = "referral_action"
	TypePoolContribution    = "pool_contribution"
	TypeGiftSent            = "gift_sent"
	TypeGiftReceived        = "gift_received"
	TypePlatformCutAccrual  = "platform_cut_accrual"
	TypeDisbursementFronted = "disbursement_fronted"
	TypeReserveAdjustment   = "reserve_adjustment"
)

var (
	// ErrInvalidAmount is returned when a caller supplies a non-positive
	// amount. Rejected before any ledger touch.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds is returned when a debit would take a balance
	// below zero. Always re-validated inside the debiting transaction.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotFound is returned when a referenced account does not exist.
	ErrNotFound = errors.New("account not found")
)

// Account is a balance plus running inflow/outflow totals. The invariant
// balance == total_inflow - total_outflow holds at every commit point.
type Account struct {
	ID               string      `json:"id"`
	Kind             AccountKind `json:"kind"`
	OwnerRef         string      `json:"owner_ref"`
	Balance          money.Cents `json:"balance"`
	TotalInflow      money.Cents `json:"total_inflow"`
	TotalOutflow     money.Cents `json:"total_outflow"`
	TotalReplenished money.Cents `json:"total_replenished"`
	Archived         bool        `json:"archived"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Transaction is an immutable, append-only audit record of one mutation.
// Amount is signed: positive for inflow, negative for outflow.
type Transaction struct {
	ID           string      `json:"id"`
	AccountID    string      `json:"account_id"`
	Type         string      `json:"type"`
	Amount       money.Cents `json:"amount"`
	Description  string      `json:"description"`
	BalanceAfter money.Cents `json:"balance_after"`
	CreatedAt    time.Time   `json:"created_at"`
}

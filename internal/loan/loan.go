// Package loan implements loan funding, the repayment waterfall, stretch-goal
// allocation and sponsorships. Every money movement flows through the ledger
// inside the same transaction as the loan-side state change.
package loan

import (
	"errors"
	"time"

	"github.com/example/watershed-core/internal/money"
)

// Loan lifecycle states. Status advances monotonically; defaulted and
// expired are terminal.
const (
	StatusFunding   = "funding"
	StatusActive    = "active"
	StatusRepaying  = "repaying"
	StatusCompleted = "completed"
	StatusDefaulted = "defaulted"
	StatusExpired   = "expired"
)

var (
	// ErrLoanNotFound is returned when a referenced loan does not exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrNotFundable is returned when funding a loan that is not in the
	// funding state or has no shares remaining.
	ErrNotFundable = errors.New("loan is not open for funding")

	// ErrSelfFunding is returned when a borrower tries to fund their own
	// loan.
	ErrSelfFunding = errors.New("borrower cannot fund their own loan")

	// ErrNotRepayable is returned when repaying a loan that is neither
	// active nor repaying.
	ErrNotRepayable = errors.New("loan is not repayable")

	// ErrAlreadyRepaid is returned when no principal remains outstanding.
	ErrAlreadyRepaid = errors.New("loan principal is fully repaid")

	// ErrNotSeekingSponsor is returned when sponsoring a loan that is not
	// asking for a sponsor.
	ErrNotSeekingSponsor = errors.New("loan is not seeking a sponsor")
)

// Loan is a share-funded loan. Amount is the funding goal; once all shares
// sell the borrower receives the full amount and repayment begins.
type Loan struct {
	ID                string      `json:"id"`
	BorrowerID        string      `json:"borrower_id"`
	Amount            money.Cents `json:"amount"`
	SharePrice        money.Cents `json:"share_price"`
	SharesTotal       int64       `json:"shares_total"`
	SharesRemaining   int64       `json:"shares_remaining"`
	Status            string      `json:"status"`
	MonthlyPayment    money.Cents `json:"monthly_payment"`
	SponsorshipAmount money.Cents `json:"sponsorship_amount"`
	SeekingSponsor    bool        `json:"seeking_sponsor"`
	FundingDeadline   *time.Time  `json:"funding_deadline,omitempty"`
	ActivatedAt       *time.Time  `json:"activated_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Share is one funder's stake in a loan. Repaid tracks the principal
// returned to this funder and never exceeds Amount.
type Share struct {
	ID        string      `json:"id"`
	LoanID    string      `json:"loan_id"`
	FunderID  string      `json:"funder_id"`
	Count     int64       `json:"count"`
	Amount    money.Cents `json:"amount"`
	Repaid    money.Cents `json:"repaid"`
	CreatedAt time.Time   `json:"created_at"`
}

// Repayment records one repayment event. Amount = PrincipalPaid +
// ServicingFee, enforced by a table constraint.
type Repayment struct {
	ID            string      `json:"id"`
	LoanID        string      `json:"loan_id"`
	Amount        money.Cents `json:"amount"`
	PrincipalPaid money.Cents `json:"principal_paid"`
	ServicingFee  money.Cents `json:"servicing_fee"`
	CreatedAt     time.Time   `json:"created_at"`
}

// StretchGoal is a priority-ordered funding target beyond the loan's base
// amount. Lower priority numbers fund first.
type StretchGoal struct {
	ID         string      `json:"id"`
	LoanID     string      `json:"loan_id"`
	Priority   int         `json:"priority"`
	Amount     money.Cents `json:"amount"`
	Funded     bool        `json:"funded"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Sponsorship is a one-time backing payment; at most one per
// (loan, sponsor) pair.
type Sponsorship struct {
	ID        string      `json:"id"`
	LoanID    string      `json:"loan_id"`
	SponsorID string      `json:"sponsor_id"`
	Amount    money.Cents `json:"amount"`
	CreatedAt time.Time   `json:"created_at"`
}

// FundResult reports the outcome of a share purchase.
type FundResult struct {
	SharesBought int64       `json:"shares_bought"`
	Cost         money.Cents `json:"cost"`
	NewBalance   money.Cents `json:"new_balance"`
	FullyFunded  bool        `json:"fully_funded"`
}

// RepayResult reports the outcome of one repayment.
type RepayResult struct {
	Payment       money.Cents `json:"payment"`
	PrincipalPaid money.Cents `json:"principal_paid"`
	ServicingFee  money.Cents `json:"servicing_fee"`
	Completed     bool        `json:"completed"`
}

// Package referral tracks referral invitations through signup and first
// qualifying action, crediting the referrer's watershed at each transition.
package referral

import (
	"errors"
	"time"

	"github.com/example/watershed-core/internal/money"
)

// Referral lifecycle states. Transitions are one-way:
// pending -> signed_up -> activated, or -> expired.
const (
	StatusPending   = "pending"
	StatusSignedUp  = "signed_up"
	StatusActivated = "activated"
	StatusExpired   = "expired"
)

var (
	// ErrReferralNotFound is returned when no referral exists for the
	// referenced user.
	ErrReferralNotFound = errors.New("referral not found")

	// ErrAlreadyReferred is returned when the referred user already has a
	// referral on record.
	ErrAlreadyReferred = errors.New("user already has a referral")

	// ErrInvalidTransition is returned on an out-of-order state change,
	// e.g. marking signup on an expired referral.
	ErrInvalidTransition = errors.New("invalid referral state transition")
)

// Referral links a referrer to one referred user. SignupCredit and
// ActionCredit record what was actually paid at each transition; ActionCredit
// is written exactly once, at activation.
type Referral struct {
	ID           string      `json:"id"`
	ReferrerID   string      `json:"referrer_id"`
	ReferredID   string      `json:"referred_id"`
	Status       string      `json:"status"`
	SignupCredit money.Cents `json:"signup_credit"`
	ActionCredit money.Cents `json:"action_credit"`
	SignedUpAt   *time.Time  `json:"signed_up_at,omitempty"`
	ActivatedAt  *time.Time  `json:"activated_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

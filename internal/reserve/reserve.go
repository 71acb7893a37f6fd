// Package reserve manages the platform's own ledger: the singleton account
// funded by the platform's revenue share, used to front project
// disbursements ahead of settlement clearing.
package reserve

import (
	"errors"
	"time"

	"github.com/example/watershed-core/internal/money"
)

// ErrInsufficientReserve is returned when the reserve cannot cover a
// requested disbursement.
var ErrInsufficientReserve = errors.New("insufficient reserve balance")

// HealthStatus classifies reserve coverage.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWatch    HealthStatus = "watch"
	StatusCritical HealthStatus = "critical"
)

// Thresholds are the configured classification boundaries.
type Thresholds struct {
	Healthy float64
	Watch   float64
}

// Health reports the reserve's balance against its outstanding obligations.
type Health struct {
	Balance              money.Cents  `json:"balance"`
	PendingDisbursements money.Cents  `json:"pending_disbursements"`
	CoverageRatio        float64      `json:"coverage_ratio"`
	Status               HealthStatus `json:"status"`
}

// Obligation is a disbursement the reserve has committed to but not yet paid.
type Obligation struct {
	ID          string      `json:"id"`
	ReferenceID string      `json:"reference_id"`
	Amount      money.Cents `json:"amount"`
	Disbursed   bool        `json:"disbursed"`
	CreatedAt   time.Time   `json:"created_at"`
	DisbursedAt *time.Time  `json:"disbursed_at,omitempty"`
}

// Classify computes the coverage ratio and health status. With no pending
// obligations the reserve is trivially healthy and the ratio is reported as
// zero, since coverage is not meaningful.
func Classify(balance, pending money.Cents, t Thresholds) (float64, HealthStatus) {
	if pending <= 0 {
		return 0, StatusHealthy
	}
	ratio := float64(balance) / float64(pending)
	switch {
	case ratio >= t.Healthy:
		return ratio, StatusHealthy
	case ratio >= t.Watch:
		return ratio, StatusWatch
	default:
		return ratio, StatusCritical
	}
}

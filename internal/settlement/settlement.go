// Package settlement batches individual ad-view revenue events and advances
// them through delayed (net-term) clearing. Clearing a batch is the only
// trigger for reserve accrual from ad revenue.
package settlement

import (
	"errors"
	"time"

	"github.com/example/watershed-core/internal/money"
)

// ErrBatchNotFound is returned when a referenced batch does not exist.
var ErrBatchNotFound = errors.New("settlement batch not found")

// Event and batch lifecycle states. Both transition pending -> cleared
// exactly once.
const (
	StatusPending = "pending"
	StatusCleared = "cleared"
)

// AdRevenueEvent records the revenue of a single ad view, split between the
// platform's cut and the viewer's watershed credit at creation time.
type AdRevenueEvent struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	GrossRevenue     money.Cents `json:"gross_revenue"`
	PlatformCut      money.Cents `json:"platform_cut"`
	WatershedCredit  money.Cents `json:"watershed_credit"`
	SettlementStatus string      `json:"settlement_status"`
	SettlementID     *string     `json:"settlement_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Batch aggregates a set of pending events for delayed clearing.
type Batch struct {
	ID                   string      `json:"id"`
	TotalGross           money.Cents `json:"total_gross"`
	TotalPlatformCut     money.Cents `json:"total_platform_cut"`
	TotalWatershedCredit money.Cents `json:"total_watershed_credit"`
	AdViewCount          int         `json:"ad_view_count"`
	Status               string      `json:"status"`
	NetTermDays          int         `json:"net_term_days"`
	ExpectedClearDate    time.Time   `json:"expected_clear_date"`
	ClearedAt            *time.Time  `json:"cleared_at,omitempty"`
	ProviderRef          *string     `json:"provider_ref,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
}

// SplitRevenue divides gross ad revenue between the platform's cut and the
// viewer's watershed credit. The cut is rounded to the nearest cent and the
// credit takes the remainder, so the split always sums back to gross.
func SplitRevenue(gross money.Cents, platformShare float64) (cut, credit money.Cents) {
	cut = gross.MulRate(platformShare)
	if cut < 0 {
		cut = 0
	}
	if cut > gross {
		cut = gross
	}
	return cut, gross - cut
}

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/example/watershed-core/internal/money"
)

// Validator checks the ledger's core invariant: for every account,
// balance == total_inflow - total_outflow == sum of its transaction log.
type Validator struct {
	store *Store
}

// NewValidator creates a validator over the ledger store.
func NewValidator(store *Store) *Validator {
	return &Validator{store: store}
}

// ConsistencyReport describes one account's invariant check.
type ConsistencyReport struct {
	AccountID    string      `json:"account_id"`
	Kind         AccountKind `json:"kind"`
	OwnerRef     string      `json:"owner_ref"`
	Balance      money.Cents `json:"balance"`
	TotalsDelta  money.Cents `json:"totals_delta"`  // balance - (inflow - outflow)
	LogDelta     money.Cents `json:"log_delta"`     // balance - sum(transactions)
	IsConsistent bool        `json:"is_consistent"`
}

// CheckAll compares every account row against its running totals and its
// transaction log. Inconsistent accounts indicate a half-applied mutation
// and are reported, never repaired automatically.
func (v *Validator) CheckAll(ctx context.Context) ([]ConsistencyReport, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := v.store.pool.Query(queryCtx, `
		SELECT
			la.id, la.kind, la.owner_ref, la.balance,
			la.balance - (la.total_inflow - la.total_outflow) AS totals_delta,
			la.balance - COALESCE(SUM(lt.amount), 0) AS log_delta
		FROM ledger_accounts la
		LEFT JOIN ledger_transactions lt ON lt.account_id = la.id
		GROUP BY la.id
		ORDER BY la.kind, la.owner_ref
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query consistency: %w", err)
	}
	defer rows.Close()

	var reports []ConsistencyReport
	for rows.Next() {
		var r ConsistencyReport
		if err := rows.Scan(&r.AccountID, &r.Kind, &r.OwnerRef, &r.Balance, &r.TotalsDelta, &r.LogDelta); err != nil {
			return nil, fmt.Errorf("failed to scan consistency row: %w", err)
		}
		r.IsConsistent = r.TotalsDelta == 0 && r.LogDelta == 0
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Drifted filters reports down to accounts that violate the invariant.
func Drifted(reports []ConsistencyReport) []ConsistencyReport {
	var out []ConsistencyReport
	for _, r := range reports {
		if !r.IsConsistent {
			out = append(out, r)
		}
	}
	return out
}

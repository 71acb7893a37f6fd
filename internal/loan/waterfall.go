package loan

import (
	"sort"

	"github.com/example/watershed-core/internal/money"
)

// GoalAllocation is one stretch goal's slice of the funding distribution.
type GoalAllocation struct {
	Priority  int         `json:"priority"`
	Amount    money.Cents `json:"amount"`
	Funded    money.Cents `json:"funded"`
	Shortfall money.Cents `json:"shortfall"`
}

// FundingDistribution is the result of walking raised funds through the
// primary amount and the stretch-goal ladder.
type FundingDistribution struct {
	PrimaryFunded    money.Cents      `json:"primary_funded"`
	PrimaryShortfall money.Cents      `json:"primary_shortfall"`
	Goals            []GoalAllocation `json:"goals"`
	Surplus          money.Cents      `json:"surplus"`
}

// CalculateFundingDistribution allocates totalRaised to the primary amount
// first, then to stretch goals in ascending priority order, each funded up to
// its own amount from whatever remains. Deterministic and side-effect-free.
func CalculateFundingDistribution(primary money.Cents, goals []StretchGoal, totalRaised money.Cents) FundingDistribution {
	ordered := make([]StretchGoal, len(goals))
	copy(ordered, goals)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	remaining := totalRaised
	if remaining < 0 {
		remaining = 0
	}

	dist := FundingDistribution{
		PrimaryFunded: money.Min(primary, remaining),
	}
	dist.PrimaryShortfall = primary - dist.PrimaryFunded
	remaining -= dist.PrimaryFunded

	for _, g := range ordered {
		funded := money.Min(g.Amount, remaining)
		remaining -= funded
		dist.Goals = append(dist.Goals, GoalAllocation{
			Priority:  g.Priority,
			Amount:    g.Amount,
			Funded:    funded,
			Shortfall: g.Amount - funded,
		})
	}

	dist.Surplus = remaining
	return dist
}

// repaymentPlan computes one scheduled payment against the outstanding
// principal. The scheduled amount is capped at remaining grossed up by the
// fee rate, the fee is carved out of the payment, and principal is clamped so
// it never exceeds remaining. When the clamp bites, the fee absorbs the
// difference so payment = principal + fee always holds.
func repaymentPlan(monthlyPayment, remaining money.Cents, feeRate float64) (payment, principal, fee money.Cents) {
	payment = money.Min(monthlyPayment, remaining.MulRate(1+feeRate))
	fee = payment.MulRate(feeRate)
	principal = payment - fee
	if principal > remaining {
		principal = remaining
		fee = payment - principal
	}
	return payment, principal, fee
}

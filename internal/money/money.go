// Package money provides fixed-point currency arithmetic in minor units.
// All balances and amounts move through the system as integer cents; float
// dollars exist only at the HTTP boundary.
package money

import (
	"fmt"
	"math"
)

// Cents is a signed monetary amount in minor units (1/100 of a currency unit).
type Cents int64

// FromFloat converts a float amount in major units to Cents, rounding
// half-away-from-zero to the nearest cent.
func FromFloat(amount float64) Cents {
	return Cents(math.Round(amount * 100))
}

// Float converts c to major units for display and API payloads.
func (c Cents) Float() float64 {
	return float64(c) / 100
}

// String formats c as a decimal amount, e.g. 1050 -> "10.50".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MulRate multiplies c by a fractional rate and rounds to the nearest cent.
func (c Cents) MulRate(rate float64) Cents {
	return Cents(math.Round(float64(c) * rate))
}

// ProRata returns the portion of total owed to a party holding count out of
// totalShares shares. Each party's portion is computed independently from the
// exact proportion; the sum over all parties may differ from total by up to
// one cent per party.
func ProRata(total Cents, count, totalShares int64) Cents {
	if totalShares <= 0 || count <= 0 {
		return 0
	}
	return Cents(math.Round(float64(total) * float64(count) / float64(totalShares)))
}

// Min returns the smaller of a and b.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromFloat(t *testing.T) {
	cases := []struct {
		in   float64
		want Cents
	}{
		{0, 0},
		{10.00, 1000},
		{10.005, 1001},
		{10.004, 1000},
		{-2.50, -250},
		{0.1 + 0.2, 30}, // float noise must not leak into cents
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FromFloat(tc.in), "FromFloat(%v)", tc.in)
	}
}

func TestFloatRoundTrip(t *testing.T) {
	assert.InDelta(t, 12.34, Cents(1234).Float(), 1e-9)
	assert.Equal(t, Cents(1234), FromFloat(Cents(1234).Float()))
}

func TestString(t *testing.T) {
	assert.Equal(t, "10.50", Cents(1050).String())
	assert.Equal(t, "0.05", Cents(5).String())
	assert.Equal(t, "-3.07", Cents(-307).String())
}

func TestMulRate(t *testing.T) {
	// 50.00 at 2% -> 1.00
	assert.Equal(t, Cents(100), Cents(5000).MulRate(0.02))
	// 0.10 at 2% -> rounds to 0.00
	assert.Equal(t, Cents(0), Cents(10).MulRate(0.02))
	// gross-up: 100.00 * 1.02 -> 102.00
	assert.Equal(t, Cents(10200), Cents(10000).MulRate(1.02))
}

func TestProRata(t *testing.T) {
	// 60/40 split of 49.00
	assert.Equal(t, Cents(2940), ProRata(4900, 60, 100))
	assert.Equal(t, Cents(1960), ProRata(4900, 40, 100))

	// Three-way split of 1.00 rounds each share independently.
	third := ProRata(100, 1, 3)
	assert.Equal(t, Cents(33), third)

	// Degenerate inputs produce zero, never a panic.
	assert.Equal(t, Cents(0), ProRata(100, 0, 10))
	assert.Equal(t, Cents(0), ProRata(100, 5, 0))
}

func TestProRataResidualBound(t *testing.T) {
	// Sum of independently rounded shares stays within one cent per party
	// of the distributed total.
	total := Cents(9999)
	counts := []int64{7, 13, 80}
	var sum Cents
	for _, c := range counts {
		sum += ProRata(total, c, 100)
	}
	diff := int64(sum - total)
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, int64(len(counts)))
}

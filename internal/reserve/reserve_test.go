package reserve

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/watershed-core/internal/money"
)

func TestClassify(t *testing.T) {
	th := Thresholds{Healthy: 1.0, Watch: 0.5}

	cases := []struct {
		name      string
		balance   money.Cents
		pending   money.Cents
		wantRatio float64
		want      HealthStatus
	}{
		{"no obligations", 0, 0, 0, StatusHealthy},
		{"no obligations with balance", 10000, 0, 0, StatusHealthy},
		{"fully covered", 10000, 10000, 1.0, StatusHealthy},
		{"over covered", 20000, 10000, 2.0, StatusHealthy},
		{"watch zone", 6000, 10000, 0.6, StatusWatch},
		{"watch boundary", 5000, 10000, 0.5, StatusWatch},
		{"critical", 4999, 10000, 0.4999, StatusCritical},
		{"empty reserve with obligations", 0, 10000, 0, StatusCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ratio, status := Classify(tc.balance, tc.pending, th)
			assert.InDelta(t, tc.wantRatio, ratio, 1e-9)
			assert.Equal(t, tc.want, status)
		})
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	// A conservative deployment can demand 150% coverage before reporting
	// healthy.
	th := Thresholds{Healthy: 1.5, Watch: 1.0}

	_, status := Classify(12000, 10000, th)
	assert.Equal(t, StatusWatch, status)

	_, status = Classify(15000, 10000, th)
	assert.Equal(t, StatusHealthy, status)
}

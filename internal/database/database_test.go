package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelayJittered(t *testing.T) {
	for attempt := 0; attempt < 12; attempt++ {
		base := time.Duration(attempt+1) * 5 * time.Millisecond
		for i := 0; i < 50; i++ {
			d := retryDelay(attempt)
			assert.GreaterOrEqual(t, d, base, "attempt %d must wait at least the base delay", attempt)
			assert.Less(t, d, 2*base, "attempt %d jitter is bounded by the base delay", attempt)
		}
	}
}

func TestRetryDelayGrows(t *testing.T) {
	// Later rounds must back off further even before jitter, so a burst of
	// aborted writers spreads out over time.
	assert.Less(t, retryDelay(0), retryDelay(5))
}

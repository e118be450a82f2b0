package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := NewBreaker("acct-1", 3)
	require.True(t, b.Allow())

	b.RecordFailure("2026-03-02")
	b.RecordFailure("2026-03-02")
	assert.True(t, b.Allow())
	assert.Equal(t, 2, b.Failures())

	b.RecordFailure("2026-03-02")
	assert.False(t, b.Allow())
}

func TestBreakerDayRolloverRestartsCount(t *testing.T) {
	b := NewBreaker("acct-1", 3)
	b.RecordFailure("2026-03-02")
	b.RecordFailure("2026-03-02")

	b.RecordFailure("2026-03-03")
	assert.Equal(t, 1, b.Failures())
	assert.True(t, b.Allow())
}

func TestBreakerStaysOpenAcrossDays(t *testing.T) {
	b := NewBreaker("acct-1", 2)
	b.RecordFailure("2026-03-02")
	b.RecordFailure("2026-03-02")
	require.False(t, b.Allow())

	// a new day restarts the count but never closes an open breaker
	b.RecordFailure("2026-03-03")
	assert.False(t, b.Allow())
}

func TestBreakerOperatorReset(t *testing.T) {
	b := NewBreaker("acct-1", 1)
	b.RecordFailure("2026-03-02")
	require.False(t, b.Allow())

	b.Reset()
	assert.True(t, b.Allow())
	assert.Zero(t, b.Failures())
}

func TestBreakerStateChangeHandler(t *testing.T) {
	b := NewBreaker("acct-1", 1)
	ch := make(chan State, 2)
	b.SetStateChangeHandler(func(_ string, _, to State) { ch <- to })

	b.RecordFailure("2026-03-02")
	assert.Equal(t, StateOpen, <-ch)

	b.Reset()
	assert.Equal(t, StateClosed, <-ch)
}

func TestZeroThresholdNeverTrips(t *testing.T) {
	b := NewBreaker("acct-1", 0)
	for i := 0; i < 50; i++ {
		b.RecordFailure("2026-03-02")
	}
	assert.True(t, b.Allow())
}

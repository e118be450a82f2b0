package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEvaluator struct {
	mu      sync.Mutex
	pairs   []Pair
	calls   map[Pair]int
	block   chan struct{} // when set, evaluations park here
	panicOn map[Pair]bool

	concurrent map[Pair]*int32
	maxSeen    map[Pair]int32
}

func newStubEvaluator(pairs ...Pair) *stubEvaluator {
	e := &stubEvaluator{
		pairs:      pairs,
		calls:      make(map[Pair]int),
		panicOn:    make(map[Pair]bool),
		concurrent: make(map[Pair]*int32),
		maxSeen:    make(map[Pair]int32),
	}
	for _, p := range pairs {
		e.concurrent[p] = new(int32)
	}
	return e
}

func (e *stubEvaluator) Pairs() []Pair { return e.pairs }

func (e *stubEvaluator) EvaluatePair(_ context.Context, pair Pair, _ time.Time) error {
	n := atomic.AddInt32(e.concurrent[pair], 1)
	defer atomic.AddInt32(e.concurrent[pair], -1)

	e.mu.Lock()
	e.calls[pair]++
	if n > e.maxSeen[pair] {
		e.maxSeen[pair] = n
	}
	doPanic := e.panicOn[pair]
	block := e.block
	e.mu.Unlock()

	if doPanic {
		panic("evaluation blew up")
	}
	if block != nil {
		<-block
	}
	return nil
}

func (e *stubEvaluator) callCount(pair Pair) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[pair]
}

var (
	pairA = Pair{AccountID: "alpha", Strategy: "trend_cross"}
	pairB = Pair{AccountID: "beta", Strategy: "mean_revert"}
)

func tickTime(day int) time.Time {
	return time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC)
}

func TestTickSkipsInFlightPairs(t *testing.T) {
	eval := newStubEvaluator(pairA, pairB)
	eval.block = make(chan struct{})
	s := NewScanner(eval, NewDailyCounters(), time.UTC, nil)

	s.Tick(context.Background(), tickTime(2))
	require.Eventually(t, func() bool {
		return s.InFlight(pairA) && s.InFlight(pairB)
	}, time.Second, time.Millisecond)

	// both pairs still parked: a second tick must not stack evaluations
	s.Tick(context.Background(), tickTime(2))
	s.Tick(context.Background(), tickTime(2))

	close(eval.block)
	s.Wait()

	assert.Equal(t, 1, eval.callCount(pairA))
	assert.Equal(t, 1, eval.callCount(pairB))
	assert.LessOrEqual(t, eval.maxSeen[pairA], int32(1))

	// pairs run again once the previous evaluation finished
	eval.block = nil
	s.Tick(context.Background(), tickTime(2))
	s.Wait()
	assert.Equal(t, 2, eval.callCount(pairA))
}

func TestTickContainsPanics(t *testing.T) {
	eval := newStubEvaluator(pairA, pairB)
	eval.panicOn[pairA] = true
	s := NewScanner(eval, NewDailyCounters(), time.UTC, nil)

	s.Tick(context.Background(), tickTime(2))
	s.Wait()

	// the healthy pair completed, and the panicking pair is retryable
	assert.Equal(t, 1, eval.callCount(pairB))
	assert.False(t, s.InFlight(pairA))

	s.Tick(context.Background(), tickTime(2))
	s.Wait()
	assert.Equal(t, 2, eval.callCount(pairA))
}

func TestResetDailyCountersIdempotent(t *testing.T) {
	var fired []string
	s := NewScanner(newStubEvaluator(), NewDailyCounters(), time.UTC, func(day string) {
		fired = append(fired, day)
	})

	s.Counters().Increment(pairA)
	s.Counters().Increment(pairA)

	s.ResetDailyCounters("2026-03-02")
	assert.Zero(t, s.Counters().Count(pairA))

	s.Counters().Increment(pairA)
	// same-day reset is a no-op, not a double reset
	s.ResetDailyCounters("2026-03-02")
	assert.Equal(t, 1, s.Counters().Count(pairA))

	s.ResetDailyCounters("2026-03-03")
	assert.Zero(t, s.Counters().Count(pairA))

	assert.Equal(t, []string{"2026-03-02", "2026-03-03"}, fired)
}

func TestTickRollsTradingDay(t *testing.T) {
	var fired int
	s := NewScanner(newStubEvaluator(), NewDailyCounters(), time.UTC, func(string) { fired++ })

	s.Tick(context.Background(), tickTime(2))
	s.Tick(context.Background(), tickTime(2))
	s.Wait()
	assert.Equal(t, 1, fired)
	assert.Equal(t, "2026-03-02", s.Counters().Day())

	s.Tick(context.Background(), tickTime(3))
	s.Wait()
	assert.Equal(t, 2, fired)
	assert.Equal(t, "2026-03-03", s.Counters().Day())
}

func TestTradingDayUsesBrokerTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	s := NewScanner(newStubEvaluator(), NewDailyCounters(), tokyo, nil)

	// 23:30 UTC on March 2 is already March 3 in Tokyo
	at := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-03", s.TradingDay(at))
}

func TestDailyCounters(t *testing.T) {
	c := NewDailyCounters()
	c.Reset("2026-03-02")

	assert.Equal(t, 1, c.Increment(pairA))
	assert.Equal(t, 2, c.Increment(pairA))
	assert.Equal(t, 1, c.Increment(pairB))
	assert.Equal(t, 2, c.Count(pairA))
	assert.Equal(t, 2, c.AccountTotal("alpha"))
	assert.Equal(t, 1, c.AccountTotal("beta"))
	assert.Zero(t, c.AccountTotal("ghost"))
}

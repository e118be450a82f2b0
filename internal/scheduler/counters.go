package scheduler

import (
	"sync"

	"armada/internal/logger"
)

// Pair identifies one (account, strategy) evaluation unit.
type Pair struct {
	AccountID string
	Strategy  string
}

// DailyCounters is the scheduler-owned keyed store of per-pair trade counts.
// Counts only ever grow within a trading day; Reset is parameterized by the
// trading-day identifier so a repeated call for the same day is a no-op and
// a late call still lands exactly once.
type DailyCounters struct {
	mu     sync.Mutex
	day    string
	counts map[Pair]int
}

func NewDailyCounters() *DailyCounters {
	return &DailyCounters{counts: make(map[Pair]int)}
}

// Reset zeroes all counts for a new trading day. Returns true when this call
// performed the reset, false when day was already current.
func (c *DailyCounters) Reset(day string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if day == c.day {
		return false
	}
	prev := c.day
	c.day = day
	c.counts = make(map[Pair]int)
	logger.Infof("counters: trading day rolled %q -> %q", prev, day)
	return true
}

func (c *DailyCounters) Increment(pair Pair) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[pair]++
	return c.counts[pair]
}

func (c *DailyCounters) Count(pair Pair) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[pair]
}

// AccountTotal sums today's trades across all of one account's strategies.
func (c *DailyCounters) AccountTotal(accountID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int
	for pair, n := range c.counts {
		if pair.AccountID == accountID {
			total += n
		}
	}
	return total
}

// Day returns the current trading-day identifier.
func (c *DailyCounters) Day() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.day
}

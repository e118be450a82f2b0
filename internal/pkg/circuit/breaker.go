package circuit

import (
	"sync"
	"time"

	"armada/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker trips when an account accumulates threshold failures (rejections
// or losing closes) within one trading day. Once open it stays open until an
// operator resets it; there is no timeout-based half-open probe, because
// resuming trading is an explicit human decision here.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	tradingDay    string
	name          string
	lastFailure   time.Time
	onStateChange func(name string, from, to State)
}

func NewBreaker(name string, threshold int) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		state:     StateClosed,
	}
}

func (b *Breaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = handler
}

func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateClosed
}

// RecordFailure counts one failure against the given trading day. A new day
// restarts the count but never closes an already-open breaker.
func (b *Breaker) RecordFailure(tradingDay string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tradingDay != b.tradingDay {
		b.tradingDay = tradingDay
		b.failures = 0
	}
	b.failures++
	b.lastFailure = time.Now()
	if b.state == StateClosed && b.threshold > 0 && b.failures >= b.threshold {
		b.transition(StateOpen)
	}
}

// Failures returns the count for the current trading day.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and clears the count. Operator action only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		go b.onStateChange(b.name, from, to)
	} else {
		logger.Warnf("Breaker %s state change: %s -> %s (failures=%d/%d, lastFailure=%s ago)",
			b.name, from, to, b.failures, b.threshold, time.Since(b.lastFailure).Round(time.Second))
	}
}

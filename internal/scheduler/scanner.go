package scheduler

import (
	"context"
	"sync"
	"time"

	"armada/internal/logger"
)

const tradingDayLayout = "2006-01-02"

// Evaluator is the work the scanner fans out: one evaluation cycle for one
// (account, strategy) pair.
type Evaluator interface {
	Pairs() []Pair
	EvaluatePair(ctx context.Context, pair Pair, now time.Time) error
}

// RolloverHook fires once per trading day, after the counters reset.
type RolloverHook func(tradingDay string)

// Scanner drives evaluation cycles. Each Tick starts one goroutine per
// enabled pair that is not already mid-evaluation; a pair still running from
// the previous tick is skipped, never queued.
type Scanner struct {
	eval     Evaluator
	counters *DailyCounters
	loc      *time.Location
	rollover RolloverHook

	mu       sync.Mutex
	inflight map[Pair]bool
	wg       sync.WaitGroup
}

func NewScanner(eval Evaluator, counters *DailyCounters, brokerTZ *time.Location, hook RolloverHook) *Scanner {
	if brokerTZ == nil {
		brokerTZ = time.UTC
	}
	return &Scanner{
		eval:     eval,
		counters: counters,
		loc:      brokerTZ,
		rollover: hook,
		inflight: make(map[Pair]bool),
	}
}

func (s *Scanner) Counters() *DailyCounters { return s.counters }

// TradingDay renders the broker-local day identifier for a point in time.
func (s *Scanner) TradingDay(now time.Time) string {
	return now.In(s.loc).Format(tradingDayLayout)
}

// ResetDailyCounters performs the once-per-day reset. Safe to call any
// number of times with the same day.
func (s *Scanner) ResetDailyCounters(tradingDay string) {
	if !s.counters.Reset(tradingDay) {
		return
	}
	if s.rollover != nil {
		s.rollover(tradingDay)
	}
}

// Tick starts evaluations for every pair not currently in flight. Errors and
// panics inside one pair's evaluation are contained to that pair; it simply
// gets retried on a later tick.
func (s *Scanner) Tick(ctx context.Context, now time.Time) {
	s.ResetDailyCounters(s.TradingDay(now))

	pairs := s.eval.Pairs()
	started := 0
	for _, pair := range pairs {
		s.mu.Lock()
		if s.inflight[pair] {
			s.mu.Unlock()
			logger.Warnf("scanner: pair %s/%s still evaluating, skipped this tick", pair.AccountID, pair.Strategy)
			continue
		}
		s.inflight[pair] = true
		s.mu.Unlock()

		started++
		s.wg.Add(1)
		go func(p Pair) {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("scanner: pair %s/%s panicked: %v", p.AccountID, p.Strategy, r)
				}
				s.mu.Lock()
				delete(s.inflight, p)
				s.mu.Unlock()
			}()
			if err := s.eval.EvaluatePair(ctx, p, now); err != nil {
				logger.Errorf("scanner: pair %s/%s evaluation failed: %v", p.AccountID, p.Strategy, err)
			}
		}(pair)
	}
	if started > 0 {
		logger.Debugf("scanner: tick at %s started %d/%d pairs", now.Format(time.RFC3339), started, len(pairs))
	}
}

// Wait blocks until all in-flight evaluations finish. Shutdown only.
func (s *Scanner) Wait() {
	s.wg.Wait()
}

// InFlight reports whether the pair is currently mid-evaluation.
func (s *Scanner) InFlight(pair Pair) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[pair]
}

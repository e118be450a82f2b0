package market

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store is the candle cache read by strategies. The ingestion path is the
// single writer; readers always observe bars in strictly increasing
// open-time order.
type Store interface {
	Window(symbol, interval string) []Candle
	Put(symbol, interval string, candles []Candle) error
	Symbols() []string
}

type MemoryStore struct {
	mu        sync.RWMutex
	maxCached int
	series    map[string][]Candle
}

func NewMemoryStore(maxCached int) *MemoryStore {
	if maxCached <= 0 {
		maxCached = 500
	}
	return &MemoryStore{
		maxCached: maxCached,
		series:    make(map[string][]Candle),
	}
}

func seriesKey(symbol, interval string) string {
	return strings.ToUpper(strings.TrimSpace(symbol)) + "@" + strings.TrimSpace(interval)
}

// Put merges candles into the cached series. Incoming bars must be ordered;
// a bar matching the cached tail replaces it in place (a still-forming candle
// re-fetched with a fresh close), anything older is already cached and is
// skipped. Refreshes always pull a full trailing window, so overlap with the
// cached series is the normal case, not an error. Readers never see time
// move backwards.
func (s *MemoryStore) Put(symbol, interval string, candles []Candle) error {
	if len(candles) == 0 {
		return nil
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime <= candles[i-1].OpenTime {
			return fmt.Errorf("market: candles for %s %s not strictly ordered at index %d", symbol, interval, i)
		}
	}
	key := seriesKey(symbol, interval)

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.series[key]
	for _, c := range candles {
		n := len(cur)
		switch {
		case n == 0 || c.OpenTime > cur[n-1].OpenTime:
			cur = append(cur, c)
		case c.OpenTime == cur[n-1].OpenTime:
			cur[n-1] = c
		default:
			// older than the tail: already cached from a previous refresh
		}
	}
	if len(cur) > s.maxCached {
		// evict oldest, keep the slice compact
		trimmed := make([]Candle, s.maxCached)
		copy(trimmed, cur[len(cur)-s.maxCached:])
		cur = trimmed
	}
	s.series[key] = cur
	return nil
}

// Window returns a copy of the cached series so strategy code can never
// mutate shared state.
func (s *MemoryStore) Window(symbol, interval string) []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.series[seriesKey(symbol, interval)]
	if len(cur) == 0 {
		return nil
	}
	out := make([]Candle, len(cur))
	copy(out, cur)
	return out
}

func (s *MemoryStore) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for key := range s.series {
		if idx := strings.Index(key, "@"); idx > 0 {
			seen[key[:idx]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

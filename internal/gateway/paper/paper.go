// Package paper implements broker.Broker as an in-memory fill simulator.
// Entries and closes fill immediately at the last published mark price;
// balances move with realized P&L. Used in sim mode and by tests.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"armada/internal/gateway/broker"
	"armada/internal/logger"
)

type position struct {
	accountID string
	symbol    string
	side      broker.Side
	size      float64
	entry     float64
	stop      float64
	target    float64
}

type Broker struct {
	mu        sync.Mutex
	balances  map[string]float64
	currency  string
	marks     map[string]float64
	positions map[string]*position
	nowFn     func() time.Time
}

func New(startingBalances map[string]float64, currency string) *Broker {
	balances := make(map[string]float64, len(startingBalances))
	for id, bal := range startingBalances {
		balances[id] = bal
	}
	if currency == "" {
		currency = "USDT"
	}
	return &Broker{
		balances:  balances,
		currency:  currency,
		marks:     make(map[string]float64),
		positions: make(map[string]*position),
		nowFn:     time.Now,
	}
}

func (b *Broker) Name() string { return "paper" }

// PublishMark feeds the simulator the latest price for an instrument.
func (b *Broker) PublishMark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	b.marks[normalize(symbol)] = price
	b.mu.Unlock()
}

func (b *Broker) AccountBalance(_ context.Context, accountID string) (broker.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.balances[accountID]
	if !ok {
		return broker.Balance{}, fmt.Errorf("paper: unknown account %q", accountID)
	}
	return broker.Balance{
		AccountID: accountID,
		Currency:  b.currency,
		Total:     bal,
		Available: bal,
		UpdatedAt: b.nowFn(),
	}, nil
}

func (b *Broker) Submit(_ context.Context, req broker.SubmitRequest) (broker.SubmitResult, error) {
	if req.StopPrice <= 0 || req.TargetPrice <= 0 {
		return broker.SubmitResult{}, broker.Reject("missing protective leg")
	}
	if req.Size <= 0 {
		return broker.SubmitResult{}, broker.Reject("size must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.balances[req.AccountID]; !ok {
		return broker.SubmitResult{}, broker.Reject("unknown account " + req.AccountID)
	}
	mark, ok := b.marks[normalize(req.Symbol)]
	if !ok || mark <= 0 {
		return broker.SubmitResult{}, broker.Transient(fmt.Errorf("no mark price for %s", req.Symbol))
	}
	id := uuid.NewString()
	b.positions[id] = &position{
		accountID: req.AccountID,
		symbol:    normalize(req.Symbol),
		side:      req.Side,
		size:      req.Size,
		entry:     mark,
		stop:      req.StopPrice,
		target:    req.TargetPrice,
	}
	logger.Debugf("paper: filled %s %s size=%.6f entry=%.4f stop=%.4f target=%.4f",
		req.Symbol, req.Side, req.Size, mark, req.StopPrice, req.TargetPrice)
	return broker.SubmitResult{PositionID: id, EntryPrice: mark, FilledAt: b.nowFn()}, nil
}

func (b *Broker) ModifyStop(_ context.Context, accountID, positionID string, stopPrice float64) error {
	if stopPrice <= 0 {
		return broker.Reject("stop price must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[positionID]
	if !ok || pos.accountID != accountID {
		return broker.Reject("unknown position " + positionID)
	}
	pos.stop = stopPrice
	return nil
}

func (b *Broker) Close(_ context.Context, req broker.CloseRequest) (broker.CloseResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[req.PositionID]
	if !ok || pos.accountID != req.AccountID {
		return broker.CloseResult{}, broker.Reject("unknown position " + req.PositionID)
	}
	mark, markOK := b.marks[pos.symbol]
	if !markOK || mark <= 0 {
		return broker.CloseResult{}, broker.Transient(fmt.Errorf("no mark price for %s", pos.symbol))
	}
	size := req.Size
	if size <= 0 || size > pos.size {
		size = pos.size
	}
	pnl := (mark - pos.entry) * size
	if pos.side == broker.SideShort {
		pnl = -pnl
	}
	b.balances[pos.accountID] += pnl
	pos.size -= size
	if pos.size <= 1e-12 {
		delete(b.positions, req.PositionID)
	}
	logger.Debugf("paper: closed %s size=%.6f exit=%.4f pnl=%.4f reason=%s",
		pos.symbol, size, mark, pnl, req.Reason)
	return broker.CloseResult{ExitPrice: mark, ClosedAt: b.nowFn()}, nil
}

func (b *Broker) MarkPrice(_ context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mark, ok := b.marks[normalize(symbol)]
	if !ok || mark <= 0 {
		return 0, broker.Transient(fmt.Errorf("no mark price for %s", symbol))
	}
	return mark, nil
}

// OpenRisk sums size*|entry-stop| across an account's simulated positions.
func (b *Broker) OpenRisk(accountID string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total float64
	for _, pos := range b.positions {
		if pos.accountID != accountID {
			continue
		}
		risk := pos.entry - pos.stop
		if risk < 0 {
			risk = -risk
		}
		total += pos.size * risk
	}
	return total
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

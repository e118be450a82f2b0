package position

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"armada/internal/gateway/broker"
	"armada/internal/gateway/notifier"
	"armada/internal/logger"
)

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 200 * time.Millisecond
)

// Manager owns every Position record: it submits gated orders with their
// protective legs and walks each open position through breakeven, partial
// take-profit, trailing stop and max-hold exit on every cycle.
type Manager struct {
	broker   broker.Broker
	sink     notifier.TextNotifier
	recorder Recorder

	mu    sync.Mutex
	books map[string]*book

	closeHook   func(TradeClose)
	nowFn       func() time.Time
	maxAttempts int
	retryBase   time.Duration
}

type book struct {
	mu        sync.Mutex
	positions map[string]*Position
}

func NewManager(b broker.Broker, sink notifier.TextNotifier, recorder Recorder) *Manager {
	return &Manager{
		broker:      b,
		sink:        sink,
		recorder:    recorder,
		books:       make(map[string]*book),
		nowFn:       time.Now,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
	}
}

func (m *Manager) bookFor(accountID string) *book {
	m.mu.Lock()
	defer m.mu.Unlock()
	bk, ok := m.books[accountID]
	if !ok {
		bk = &book{positions: make(map[string]*Position)}
		m.books[accountID] = bk
	}
	return bk
}

// SubmitArgs describes an accepted order. StopPrice and TargetPrice are both
// mandatory; Submit refuses a request missing either leg.
type SubmitArgs struct {
	AccountID   string
	Strategy    string
	Symbol      string
	Side        broker.Side
	Size        float64
	StopPrice   float64
	TargetPrice float64
}

func (m *Manager) Submit(ctx context.Context, args SubmitArgs) (string, error) {
	if args.StopPrice <= 0 || args.TargetPrice <= 0 {
		return "", fmt.Errorf("position: refusing order without both protective legs (stop=%.4f target=%.4f)",
			args.StopPrice, args.TargetPrice)
	}
	if args.Size <= 0 {
		return "", fmt.Errorf("position: size must be positive")
	}
	if args.Side != broker.SideLong && args.Side != broker.SideShort {
		return "", fmt.Errorf("position: invalid side %q", args.Side)
	}

	bk := m.bookFor(args.AccountID)
	bk.mu.Lock()
	defer bk.mu.Unlock()

	req := broker.SubmitRequest{
		AccountID:     args.AccountID,
		Symbol:        args.Symbol,
		Side:          args.Side,
		Size:          args.Size,
		StopPrice:     args.StopPrice,
		TargetPrice:   args.TargetPrice,
		ClientOrderID: uuid.NewString(),
	}
	var res broker.SubmitResult
	err := m.withRetry(ctx, "submit "+args.Symbol, func() error {
		var opErr error
		res, opErr = m.broker.Submit(ctx, req)
		return opErr
	})
	if err != nil {
		return "", err
	}

	risk := res.EntryPrice - args.StopPrice
	if risk < 0 {
		risk = -risk
	}
	pos := &Position{
		ID:          res.PositionID,
		AccountID:   args.AccountID,
		Strategy:    args.Strategy,
		Symbol:      strings.ToUpper(strings.TrimSpace(args.Symbol)),
		Side:        args.Side,
		Size:        args.Size,
		InitialSize: args.Size,
		EntryPrice:  res.EntryPrice,
		StopPrice:   args.StopPrice,
		TargetPrice: args.TargetPrice,
		InitialRisk: risk,
		OpenedAt:    res.FilledAt,
		State:       StateOpen,
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = m.nowFn()
	}
	bk.positions[pos.ID] = pos
	logger.Infof("position: opened id=%s account=%s %s %s size=%.6f entry=%.4f stop=%.4f target=%.4f",
		pos.ID, pos.AccountID, pos.Symbol, pos.Side, pos.Size, pos.EntryPrice, pos.StopPrice, pos.TargetPrice)
	notifier.PositionOpened(m.sink, pos.AccountID, pos.Symbol, string(pos.Side),
		pos.Size, pos.EntryPrice, pos.StopPrice, pos.TargetPrice)
	return pos.ID, nil
}

// ManageOpenPositions runs the lifecycle rules for every open position on
// the account. A failure on one position is logged and contained; the rest
// of the account still gets managed this cycle.
func (m *Manager) ManageOpenPositions(ctx context.Context, accountID string, rules Rules, now time.Time) {
	bk := m.bookFor(accountID)
	bk.mu.Lock()
	defer bk.mu.Unlock()

	ids := make([]string, 0, len(bk.positions))
	for id := range bk.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		pos, ok := bk.positions[id]
		if !ok || pos.State == StateClosed {
			continue
		}
		if err := m.managePosition(ctx, bk, pos, rules, now); err != nil {
			logger.Errorf("position: manage id=%s %s failed: %v", pos.ID, pos.Symbol, err)
		}
	}
}

func (m *Manager) managePosition(ctx context.Context, bk *book, pos *Position, rules Rules, now time.Time) error {
	price, err := m.broker.MarkPrice(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("mark price: %w", err)
	}

	// terminal checks first: protective fills and forced time exit
	if breachedStop(pos.Side, price, pos.StopPrice) {
		reason := ExitStop
		if pos.Trailing {
			reason = ExitTrailing
		}
		return m.closeLocked(ctx, bk, pos, 0, reason)
	}
	if hitTarget(pos.Side, price, pos.TargetPrice) {
		return m.closeLocked(ctx, bk, pos, 0, ExitTarget)
	}
	if rules.MaxHold > 0 && now.Sub(pos.OpenedAt) >= rules.MaxHold {
		return m.closeLocked(ctx, bk, pos, 0, ExitTimeOut)
	}

	if pos.InitialRisk <= 0 {
		return nil
	}
	profit := profitOf(pos.Side, pos.EntryPrice, price)

	if !pos.Breakeven && rules.BreakevenAtR > 0 && profit >= rules.BreakevenAtR*pos.InitialRisk {
		if err := m.modifyStopLocked(ctx, pos, pos.EntryPrice); err != nil {
			return err
		}
		pos.Breakeven = true
		logger.Infof("position: id=%s %s stop moved to breakeven %.4f", pos.ID, pos.Symbol, pos.EntryPrice)
	}

	if !pos.PartialDone && rules.PartialAtR > 0 && rules.PartialRatio > 0 &&
		profit >= rules.PartialAtR*pos.InitialRisk {
		size := pos.Size * rules.PartialRatio
		if err := m.closeLocked(ctx, bk, pos, size, ExitTarget); err != nil {
			return err
		}
		pos.PartialDone = true
	}

	if rules.TrailingAtR > 0 && rules.TrailDistanceR > 0 {
		if !pos.Trailing && profit >= rules.TrailingAtR*pos.InitialRisk {
			pos.Trailing = true
			pos.TrailAnchor = price
			logger.Infof("position: id=%s %s trailing armed anchor=%.4f", pos.ID, pos.Symbol, price)
		}
		if pos.Trailing && betterAnchor(pos.Side, price, pos.TrailAnchor) {
			pos.TrailAnchor = price
			next := trailingStopFor(pos.Side, pos.TrailAnchor, rules.TrailDistanceR*pos.InitialRisk)
			if tighterStop(pos.Side, next, pos.StopPrice) {
				if err := m.modifyStopLocked(ctx, pos, next); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (m *Manager) modifyStopLocked(ctx context.Context, pos *Position, stop float64) error {
	err := m.withRetry(ctx, "modify stop "+pos.Symbol, func() error {
		return m.broker.ModifyStop(ctx, pos.AccountID, pos.ID, stop)
	})
	if err != nil {
		return fmt.Errorf("modify stop: %w", err)
	}
	pos.StopPrice = stop
	return nil
}

// closeLocked closes size units (0 = all) of the position. A partial close
// realizes P&L against the same position; the remainder keeps its stop and
// target legs, no child position is spawned.
func (m *Manager) closeLocked(ctx context.Context, bk *book, pos *Position, size float64, reason ExitReason) error {
	full := size <= 0 || size >= pos.Size
	if full {
		size = pos.Size
	}
	var res broker.CloseResult
	err := m.withRetry(ctx, "close "+pos.Symbol, func() error {
		var opErr error
		res, opErr = m.broker.Close(ctx, broker.CloseRequest{
			AccountID:  pos.AccountID,
			PositionID: pos.ID,
			Size:       size,
			Reason:     string(reason),
		})
		return opErr
	})
	if err != nil {
		return fmt.Errorf("close (%s): %w", reason, err)
	}

	pnl := profitOf(pos.Side, pos.EntryPrice, res.ExitPrice) * size
	pos.RealizedPnL += pnl
	pos.Size -= size

	closedAt := res.ClosedAt
	if closedAt.IsZero() {
		closedAt = m.nowFn()
	}
	if full {
		pos.State = StateClosed
		pos.ExitPrice = res.ExitPrice
		pos.ExitReason = reason
		pos.ClosedAt = closedAt
		delete(bk.positions, pos.ID)
	} else {
		pos.State = StatePartiallyClosed
	}

	m.record(TradeClose{
		PositionID: pos.ID,
		AccountID:  pos.AccountID,
		Strategy:   pos.Strategy,
		Symbol:     pos.Symbol,
		Side:       string(pos.Side),
		Size:       size,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  res.ExitPrice,
		PnL:        pnl,
		Reason:     string(reason),
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   closedAt,
		Partial:    !full,
	})
	logger.Infof("position: closed id=%s %s size=%.6f exit=%.4f pnl=%.4f reason=%s partial=%v",
		pos.ID, pos.Symbol, size, res.ExitPrice, pnl, reason, !full)
	notifier.PositionClosed(m.sink, pos.AccountID, pos.Symbol, string(pos.Side), string(reason),
		size, res.ExitPrice, pnl)
	return nil
}

// ManualClose force-closes one position at market on operator request.
func (m *Manager) ManualClose(ctx context.Context, accountID, positionID string) error {
	bk := m.bookFor(accountID)
	bk.mu.Lock()
	defer bk.mu.Unlock()
	pos, ok := bk.positions[positionID]
	if !ok {
		return fmt.Errorf("position: unknown id %q for account %s", positionID, accountID)
	}
	return m.closeLocked(ctx, bk, pos, 0, ExitManual)
}

// SetCloseHook registers a synchronous observer called after every realized
// close (full or partial). Set during wiring, before trading starts.
func (m *Manager) SetCloseHook(hook func(TradeClose)) {
	m.closeHook = hook
}

func (m *Manager) record(rec TradeClose) {
	if m.closeHook != nil {
		m.closeHook(rec)
	}
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordClose(rec); err != nil {
		logger.Warnf("position: history sink write failed id=%s: %v", rec.PositionID, err)
	}
}

// Open returns copies of the account's open positions.
func (m *Manager) Open(accountID string) []Position {
	bk := m.bookFor(accountID)
	bk.mu.Lock()
	defer bk.mu.Unlock()
	out := make([]Position, 0, len(bk.positions))
	for _, pos := range bk.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (m *Manager) OpenCount(accountID string) int {
	bk := m.bookFor(accountID)
	bk.mu.Lock()
	defer bk.mu.Unlock()
	return len(bk.positions)
}

// OpenRisk sums size*|entry-stop| across the account's open positions, the
// quantity the gate holds under the portfolio risk ceiling.
func (m *Manager) OpenRisk(accountID string) float64 {
	bk := m.bookFor(accountID)
	bk.mu.Lock()
	defer bk.mu.Unlock()
	var total float64
	for _, pos := range bk.positions {
		risk := pos.EntryPrice - pos.StopPrice
		if risk < 0 {
			risk = -risk
		}
		total += pos.Size * risk
	}
	return total
}

func (m *Manager) withRetry(ctx context.Context, label string, op func() error) error {
	var err error
	delay := m.retryBase
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		err = op()
		if err == nil || !broker.IsTransient(err) {
			return err
		}
		if attempt == m.maxAttempts {
			break
		}
		logger.Warnf("position: %s transient failure (attempt %d/%d): %v", label, attempt, m.maxAttempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

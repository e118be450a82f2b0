// Package trader runs the evaluation pipeline: one "account turn" per
// scheduler tick, from configuration snapshot through market refresh,
// strategy evaluation, the risk gate, order submission and open-position
// management. The scanner decides WHEN a pair runs; the fleet decides WHAT
// a run does.
package trader

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"armada/internal/config"
	"armada/internal/gateway/broker"
	"armada/internal/gateway/notifier"
	"armada/internal/logger"
	"armada/internal/market"
	"armada/internal/pkg/circuit"
	"armada/internal/position"
	"armada/internal/risk"
	"armada/internal/scheduler"
	"armada/internal/strategy"
)

// RunState is the account's runtime trading state. ENABLED and DISABLED
// follow the configuration; CIRCUIT_BROKEN is entered by the breaker and
// left only through ReEnable or a reload that re-enables the account.
type RunState string

const (
	StateEnabled       RunState = "ENABLED"
	StateDisabled      RunState = "DISABLED"
	StateCircuitBroken RunState = "CIRCUIT_BROKEN"
)

// MarkPublisher receives the latest close per symbol after each market
// refresh. The paper broker implements it to know fill prices.
type MarkPublisher interface {
	PublishMark(symbol string, price float64)
}

type accountRuntime struct {
	mu      sync.Mutex // serializes the account turn: submission vs management
	breaker *circuit.Breaker
}

// Fleet implements scheduler.Evaluator over every enabled account in the
// current configuration snapshot.
type Fleet struct {
	registry *config.Registry
	store    market.Store
	source   market.Source
	broker   broker.Broker
	manager  *position.Manager
	counters *scheduler.DailyCounters
	sink     notifier.TextNotifier
	marks    MarkPublisher // nil when the broker feeds itself
	loc      *time.Location

	mu       sync.Mutex
	accounts map[string]*accountRuntime
}

// Deps carries the fleet's collaborators. Marks may be nil.
type Deps struct {
	Registry *config.Registry
	Store    market.Store
	Source   market.Source
	Broker   broker.Broker
	Manager  *position.Manager
	Counters *scheduler.DailyCounters
	Sink     notifier.TextNotifier
	Marks    MarkPublisher
	BrokerTZ *time.Location
}

func NewFleet(d Deps) *Fleet {
	loc := d.BrokerTZ
	if loc == nil {
		loc = time.UTC
	}
	f := &Fleet{
		registry: d.Registry,
		store:    d.Store,
		source:   d.Source,
		broker:   d.Broker,
		manager:  d.Manager,
		counters: d.Counters,
		sink:     d.Sink,
		marks:    d.Marks,
		loc:      loc,
		accounts: make(map[string]*accountRuntime),
	}
	if f.manager != nil {
		f.manager.SetCloseHook(f.observeClose)
	}
	if f.registry != nil {
		f.registry.OnChange(f.onConfigChange)
	}
	return f
}

func (f *Fleet) runtime(accountID string) *accountRuntime {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.accounts[accountID]
	if !ok {
		threshold := 0
		if snap := f.registry.Snapshot(); snap.Config != nil {
			threshold = snap.Config.Circuit.FailureThreshold
		}
		rt = &accountRuntime{breaker: circuit.NewBreaker(accountID, threshold)}
		rt.breaker.SetStateChangeHandler(f.onBreakerChange)
		f.accounts[accountID] = rt
	}
	return rt
}

func (f *Fleet) onBreakerChange(name string, from, to circuit.State) {
	logger.Warnf("Account %s breaker: %s -> %s", name, from, to)
	if to == circuit.StateOpen {
		rt := f.runtime(name)
		notifier.CircuitTripped(f.sink, name, rt.breaker.Failures())
	}
}

// observeClose feeds losing closes into the account's breaker. Wins and
// break-even closes do not count.
func (f *Fleet) observeClose(rec position.TradeClose) {
	if rec.PnL >= 0 {
		return
	}
	f.runtime(rec.AccountID).breaker.RecordFailure(f.tradingDay(rec.ClosedAt))
}

// onConfigChange re-enables accounts whose new definition is enabled, the
// reload path of operator re-enable.
func (f *Fleet) onConfigChange(snap config.Snapshot) {
	if snap.Config == nil {
		return
	}
	for _, acct := range snap.Config.Accounts {
		if !acct.Enabled {
			continue
		}
		rt := f.runtime(acct.ID)
		if !rt.breaker.Allow() {
			logger.Infof("Account %s re-enabled by config reload (snapshot v%d)", acct.ID, snap.Version)
			rt.breaker.Reset()
		}
	}
}

// ReEnable is the explicit operator action that closes an open breaker.
func (f *Fleet) ReEnable(accountID string) error {
	if _, ok := f.registry.Account(accountID); !ok {
		return fmt.Errorf("trader: unknown account %q", accountID)
	}
	rt := f.runtime(accountID)
	if rt.breaker.Allow() {
		return fmt.Errorf("trader: account %s is not circuit-broken", accountID)
	}
	rt.breaker.Reset()
	logger.Infof("Account %s re-enabled by operator", accountID)
	return nil
}

func (f *Fleet) tradingDay(now time.Time) string {
	return now.In(f.loc).Format("2006-01-02")
}

// Pairs returns the (account, strategy) pairs eligible this tick: enabled in
// the current snapshot and not circuit-broken.
func (f *Fleet) Pairs() []scheduler.Pair {
	snap := f.registry.Snapshot()
	if snap.Config == nil {
		return nil
	}
	pairs := make([]scheduler.Pair, 0, len(snap.Config.Accounts))
	for _, acct := range snap.Config.Accounts {
		if !acct.Enabled {
			continue
		}
		if !f.runtime(acct.ID).breaker.Allow() {
			continue
		}
		pairs = append(pairs, scheduler.Pair{AccountID: acct.ID, Strategy: acct.Strategy})
	}
	return pairs
}

// EvaluatePair runs one account turn against the snapshot captured at entry.
// A config reload landing mid-turn does not affect this evaluation.
func (f *Fleet) EvaluatePair(ctx context.Context, pair scheduler.Pair, now time.Time) error {
	snap := f.registry.Snapshot()
	acct, ok := snap.Account(pair.AccountID)
	if !ok || !acct.Enabled {
		return nil
	}
	if acct.Strategy != pair.Strategy {
		// binding changed between Pairs() and now; this pair is stale
		return nil
	}

	rt := f.runtime(acct.ID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rules := lifecycleRules(acct.Lifecycle)
	// lifecycle management runs every cycle regardless of how the entry
	// side of the turn goes
	defer f.manager.ManageOpenPositions(ctx, acct.ID, rules, now)

	if !rt.breaker.Allow() {
		return nil
	}

	interval := snap.Config.Market.Interval
	if err := f.refreshMarketData(ctx, acct.Instruments, interval, snap.Config.Market.History); err != nil {
		return fmt.Errorf("trader: account %s market refresh: %w", acct.ID, err)
	}

	strat, err := strategy.New(acct.Strategy, acct.Params)
	if err != nil {
		return fmt.Errorf("trader: account %s strategy %s: %w", acct.ID, acct.Strategy, err)
	}

	for _, sym := range acct.Instruments {
		if err := f.evaluateInstrument(ctx, acct, rt, pair, strat, sym, interval, now); err != nil {
			logger.Errorf("Account %s %s evaluation failed: %v", acct.ID, sym, err)
		}
	}
	return nil
}

func (f *Fleet) evaluateInstrument(ctx context.Context, acct config.AccountConfig, rt *accountRuntime,
	pair scheduler.Pair, strat strategy.Strategy, sym, interval string, now time.Time) error {

	window := f.store.Window(sym, interval)
	if len(window) < strat.Warmup() {
		logger.Warnf("Account %s %s: %d bars cached, strategy %s needs %d, skipping",
			acct.ID, sym, len(window), strat.Kind(), strat.Warmup())
		return nil
	}

	sig, err := strat.Evaluate(window)
	if err != nil {
		return fmt.Errorf("strategy evaluate: %w", err)
	}
	if sig == nil {
		return nil
	}

	last := window[len(window)-1]
	price := last.Close
	state, err := f.accountState(ctx, acct.ID, pair)
	if err != nil {
		return fmt.Errorf("account state: %w", err)
	}
	state.SpreadPct = spreadProxy(last)

	decision := risk.Evaluate(state, gateLimits(acct.Risk), sig, price, now)
	if !decision.Accepted {
		logger.Debugf("Account %s %s signal rejected: %s (%s)", acct.ID, sym, decision.Reason, decision.Detail)
		return nil
	}

	side := broker.SideLong
	if sig.Direction == strategy.Short {
		side = broker.SideShort
	}
	_, err = f.manager.Submit(ctx, position.SubmitArgs{
		AccountID:   acct.ID,
		Strategy:    acct.Strategy,
		Symbol:      sym,
		Side:        side,
		Size:        decision.Size,
		StopPrice:   decision.StopPrice,
		TargetPrice: decision.TargetPrice,
	})
	if err != nil {
		if broker.IsRejection(err) {
			notifier.TradeRejected(f.sink, acct.ID, sym, err.Error())
			rt.breaker.RecordFailure(f.tradingDay(now))
		}
		return fmt.Errorf("submit: %w", err)
	}
	f.counters.Increment(pair)
	return nil
}

// refreshMarketData pulls fresh history for each instrument into the store
// and publishes the latest close as the working mark.
func (f *Fleet) refreshMarketData(ctx context.Context, instruments []string, interval string, history int) error {
	for _, sym := range instruments {
		candles, err := f.source.FetchHistory(ctx, sym, interval, history)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", sym, err)
		}
		if len(candles) == 0 {
			continue
		}
		if err := f.store.Put(sym, interval, candles); err != nil {
			return fmt.Errorf("cache %s: %w", sym, err)
		}
		if f.marks != nil {
			f.marks.PublishMark(sym, candles[len(candles)-1].Close)
		}
	}
	return nil
}

// spreadProxy estimates the tradable spread from the latest bar's range. The
// pipeline carries no order-book quotes, so the high-low range stands in for
// the quoted spread in the gate's spread filter.
func spreadProxy(c market.Candle) float64 {
	if c.Close <= 0 || c.High < c.Low {
		return 0
	}
	return (c.High - c.Low) / c.Close
}

// accountState reads the gate's view of the account as of the start of the
// instrument evaluation.
func (f *Fleet) accountState(ctx context.Context, accountID string, pair scheduler.Pair) (risk.AccountState, error) {
	bal, err := f.broker.AccountBalance(ctx, accountID)
	if err != nil {
		return risk.AccountState{}, fmt.Errorf("balance: %w", err)
	}
	return risk.AccountState{
		Balance:       bal.Available,
		OpenPositions: f.manager.OpenCount(accountID),
		OpenRisk:      f.manager.OpenRisk(accountID),
		TradesToday:   f.counters.Count(pair),
	}, nil
}

func gateLimits(r config.RiskConfig) risk.Limits {
	return risk.Limits{
		MaxRiskPerTrade:  r.MaxRiskPerTrade,
		MaxPortfolioRisk: r.MaxPortfolioRisk,
		MaxOpenPositions: r.MaxOpenPositions,
		MaxTradesPerDay:  r.MaxTradesPerDay,
		MinConfidence:    r.MinConfidence,
		Filters: risk.Filters{
			MaxSpreadPct:       r.MaxSpreadPct,
			MaxStopDistancePct: r.MaxStopDistancePct,
			SessionStartHour:   r.SessionStartHour,
			SessionEndHour:     r.SessionEndHour,
		},
	}
}

func lifecycleRules(l config.LifecycleConfig) position.Rules {
	return position.Rules{
		BreakevenAtR:   l.BreakevenAtR,
		PartialAtR:     l.PartialAtR,
		PartialRatio:   l.PartialRatio,
		TrailingAtR:    l.TrailingAtR,
		TrailDistanceR: l.TrailDistanceR,
		MaxHold:        l.MaxHold(),
	}
}

// AccountStatus is the read-only per-account snapshot served on the status
// surface.
type AccountStatus struct {
	ID            string   `json:"id"`
	Strategy      string   `json:"strategy"`
	State         RunState `json:"state"`
	OpenPositions int      `json:"open_positions"`
	OpenRisk      float64  `json:"open_risk"`
	TradesToday   int      `json:"trades_today"`
	Failures      int      `json:"failures_today"`
}

// Status reports every configured account, sorted by id.
func (f *Fleet) Status() []AccountStatus {
	snap := f.registry.Snapshot()
	if snap.Config == nil {
		return nil
	}
	out := make([]AccountStatus, 0, len(snap.Config.Accounts))
	for _, acct := range snap.Config.Accounts {
		rt := f.runtime(acct.ID)
		state := StateEnabled
		switch {
		case !rt.breaker.Allow():
			state = StateCircuitBroken
		case !acct.Enabled:
			state = StateDisabled
		}
		out = append(out, AccountStatus{
			ID:            acct.ID,
			Strategy:      acct.Strategy,
			State:         state,
			OpenPositions: f.manager.OpenCount(acct.ID),
			OpenRisk:      f.manager.OpenRisk(acct.ID),
			TradesToday:   f.counters.Count(scheduler.Pair{AccountID: acct.ID, Strategy: acct.Strategy}),
			Failures:      rt.breaker.Failures(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenPositions exposes the manager's open book for the status surface.
func (f *Fleet) OpenPositions(accountID string) []position.Position {
	return f.manager.Open(accountID)
}

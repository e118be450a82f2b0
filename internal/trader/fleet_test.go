package trader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armada/internal/config"
	"armada/internal/gateway/notifier"
	"armada/internal/gateway/paper"
	"armada/internal/market"
	"armada/internal/position"
	"armada/internal/scheduler"
)

type stubSource struct {
	candles map[string][]market.Candle
	err     error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchHistory(_ context.Context, symbol, _ string, _ int) ([]market.Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.candles[symbol], nil
}

// crossingCandles declines steadily then jumps, which flips a 3/5 EMA cross
// long on the last bar.
func crossingCandles() []market.Candle {
	closes := []float64{110, 109, 108, 107, 106, 105, 104, 103, 102, 120}
	out := make([]market.Candle, 0, len(closes))
	for i, c := range closes {
		ot := int64(i) * 3_600_000
		out = append(out, market.Candle{
			OpenTime: ot, CloseTime: ot + 3_599_999,
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100,
		})
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Broker: config.BrokerConfig{Mode: "paper", Timezone: "UTC", Currency: "USDT", StartingBalance: 10_000},
		Market: config.MarketConfig{Source: "binance", Interval: "1h", History: 10, MaxCached: 100},
		Circuit: config.CircuitConfig{FailureThreshold: 3},
		Accounts: []config.AccountConfig{{
			ID:       "alpha",
			Enabled:  true,
			Strategy: "trend_cross",
			Params: map[string]any{
				"fast_period": 3,
				"slow_period": 5,
				"atr_period":  3,
			},
			Instruments: []string{"BTCUSDT"},
			Risk: config.RiskConfig{
				MaxRiskPerTrade:  0.01,
				MaxPortfolioRisk: 0.05,
				MaxOpenPositions: 3,
				MaxTradesPerDay:  3,
			},
			Lifecycle: config.LifecycleConfig{BreakevenAtR: 1.0},
		}},
	}
}

type fleetFixture struct {
	fleet    *Fleet
	broker   *paper.Broker
	manager  *position.Manager
	counters *scheduler.DailyCounters
	registry *config.Registry
	store    *market.MemoryStore
}

func newFleetFixture(t *testing.T, cfg *config.Config, source market.Source) *fleetFixture {
	t.Helper()
	registry := config.NewRegistryFromConfig(cfg)
	pb := paper.New(map[string]float64{"alpha": cfg.Broker.StartingBalance}, cfg.Broker.Currency)
	manager := position.NewManager(pb, notifier.Noop{}, nil)
	counters := scheduler.NewDailyCounters()
	candleStore := market.NewMemoryStore(cfg.Market.MaxCached)

	fleet := NewFleet(Deps{
		Registry: registry,
		Store:    candleStore,
		Source:   source,
		Broker:   pb,
		Manager:  manager,
		Counters: counters,
		Sink:     notifier.Noop{},
		Marks:    pb,
		BrokerTZ: time.UTC,
	})
	return &fleetFixture{fleet: fleet, broker: pb, manager: manager, counters: counters, registry: registry, store: candleStore}
}

var evalTime = time.Date(2026, 3, 2, 12, 0, 10, 0, time.UTC)

func alphaPair() scheduler.Pair {
	return scheduler.Pair{AccountID: "alpha", Strategy: "trend_cross"}
}

func TestEvaluatePairOpensPosition(t *testing.T) {
	fx := newFleetFixture(t, testConfig(), &stubSource{candles: map[string][]market.Candle{
		"BTCUSDT": crossingCandles(),
	}})

	require.NoError(t, fx.fleet.EvaluatePair(context.Background(), alphaPair(), evalTime))

	require.Equal(t, 1, fx.manager.OpenCount("alpha"))
	assert.Equal(t, 1, fx.counters.Count(alphaPair()))

	pos := fx.manager.Open("alpha")[0]
	assert.Greater(t, pos.StopPrice, 0.0)
	assert.Greater(t, pos.TargetPrice, 0.0)
	// size * initial risk stays inside the per-trade budget
	assert.LessOrEqual(t, pos.Size*pos.InitialRisk, 0.01*10_000+1e-6)
}

// slidingSource replays trailing windows the way a live feed does: each call
// returns the full history window advanced by the bars closed since.
type slidingSource struct {
	windows [][]market.Candle
	calls   int
}

func (s *slidingSource) Name() string { return "sliding" }

func (s *slidingSource) FetchHistory(_ context.Context, _, _ string, _ int) ([]market.Candle, error) {
	i := s.calls
	if i >= len(s.windows) {
		i = len(s.windows) - 1
	}
	s.calls++
	return s.windows[i], nil
}

// Every refresh pulls the full trailing window, so from the second tick on
// the fetched batch overlaps almost the whole cached series. The turn must
// merge it and keep evaluating, not error out.
func TestEvaluatePairAcceptsOverlappingRefresh(t *testing.T) {
	first := crossingCandles()
	next := append(append([]market.Candle(nil), first[1:]...), market.Candle{
		OpenTime: 10 * 3_600_000, CloseTime: 10*3_600_000 + 3_599_999,
		Open: 120, High: 121, Low: 119, Close: 120.5, Volume: 100,
	})
	src := &slidingSource{windows: [][]market.Candle{first, next}}
	fx := newFleetFixture(t, testConfig(), src)

	require.NoError(t, fx.fleet.EvaluatePair(context.Background(), alphaPair(), evalTime))
	require.NoError(t, fx.fleet.EvaluatePair(context.Background(), alphaPair(), evalTime.Add(time.Hour)))

	w := fx.store.Window("BTCUSDT", "1h")
	require.Len(t, w, 11)
	assert.Equal(t, int64(0), w[0].OpenTime)
	assert.Equal(t, int64(10*3_600_000), w[10].OpenTime)
}

func TestSpreadFilterBlocksWideBars(t *testing.T) {
	cfg := testConfig()
	cfg.Accounts[0].Risk.MaxSpreadPct = 0.005
	fx := newFleetFixture(t, cfg, &stubSource{candles: map[string][]market.Candle{
		"BTCUSDT": crossingCandles(),
	}})

	// the last bar ranges 119-121 around a 120 close, ~1.7% of price
	require.NoError(t, fx.fleet.EvaluatePair(context.Background(), alphaPair(), evalTime))
	assert.Zero(t, fx.manager.OpenCount("alpha"))
}

func TestSpreadProxy(t *testing.T) {
	assert.InDelta(t, 2.0/120, spreadProxy(market.Candle{High: 121, Low: 119, Close: 120}), 1e-9)
	assert.Zero(t, spreadProxy(market.Candle{High: 1, Low: 2, Close: 100}))
	assert.Zero(t, spreadProxy(market.Candle{High: 1, Low: 0.5}))
}

// Three trades already on the books: the fourth valid signal is rejected by
// the daily quota and never reaches the broker.
func TestEvaluatePairHonorsDailyQuota(t *testing.T) {
	fx := newFleetFixture(t, testConfig(), &stubSource{candles: map[string][]market.Candle{
		"BTCUSDT": crossingCandles(),
	}})
	for i := 0; i < 3; i++ {
		fx.counters.Increment(alphaPair())
	}

	require.NoError(t, fx.fleet.EvaluatePair(context.Background(), alphaPair(), evalTime))

	assert.Zero(t, fx.manager.OpenCount("alpha"))
	assert.Equal(t, 3, fx.counters.Count(alphaPair()))
}

func TestEvaluatePairIgnoresStaleBinding(t *testing.T) {
	fx := newFleetFixture(t, testConfig(), &stubSource{candles: map[string][]market.Candle{
		"BTCUSDT": crossingCandles(),
	}})

	stale := scheduler.Pair{AccountID: "alpha", Strategy: "mean_revert"}
	require.NoError(t, fx.fleet.EvaluatePair(context.Background(), stale, evalTime))
	assert.Zero(t, fx.manager.OpenCount("alpha"))
}

func TestEvaluatePairSurfacesSourceFailure(t *testing.T) {
	fx := newFleetFixture(t, testConfig(), &stubSource{err: context.DeadlineExceeded})
	err := fx.fleet.EvaluatePair(context.Background(), alphaPair(), evalTime)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market refresh")
}

func TestPairsFiltering(t *testing.T) {
	cfg := testConfig()
	cfg.Accounts = append(cfg.Accounts, config.AccountConfig{
		ID: "bravo", Enabled: false, Strategy: "mean_revert", Instruments: []string{"ETHUSDT"},
	})
	fx := newFleetFixture(t, cfg, &stubSource{})

	pairs := fx.fleet.Pairs()
	require.Len(t, pairs, 1)
	assert.Equal(t, "alpha", pairs[0].AccountID)

	// three failures trips the breaker and removes the account from ticks
	rt := fx.fleet.runtime("alpha")
	for i := 0; i < 3; i++ {
		rt.breaker.RecordFailure("2026-03-02")
	}
	assert.Empty(t, fx.fleet.Pairs())
}

func TestLosingClosesTripTheBreaker(t *testing.T) {
	fx := newFleetFixture(t, testConfig(), &stubSource{})

	for i := 0; i < 3; i++ {
		fx.fleet.observeClose(position.TradeClose{AccountID: "alpha", PnL: -25, ClosedAt: evalTime})
	}
	assert.Empty(t, fx.fleet.Pairs())

	// winning closes never count
	fx2 := newFleetFixture(t, testConfig(), &stubSource{})
	for i := 0; i < 10; i++ {
		fx2.fleet.observeClose(position.TradeClose{AccountID: "alpha", PnL: 40, ClosedAt: evalTime})
	}
	assert.Len(t, fx2.fleet.Pairs(), 1)
}

// A loss is charged to the trading day it closed on, not to the wall clock
// when the hook fires.
func TestObserveCloseCountsByCloseDay(t *testing.T) {
	fx := newFleetFixture(t, testConfig(), &stubSource{})

	d1 := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	d2 := d1.Add(time.Hour) // next trading day
	fx.fleet.observeClose(position.TradeClose{AccountID: "alpha", PnL: -10, ClosedAt: d1})
	fx.fleet.observeClose(position.TradeClose{AccountID: "alpha", PnL: -10, ClosedAt: d1})
	fx.fleet.observeClose(position.TradeClose{AccountID: "alpha", PnL: -10, ClosedAt: d2})

	// the third loss opened a fresh day, so the count restarted below the
	// threshold and the account still trades
	assert.Len(t, fx.fleet.Pairs(), 1)
}

func TestReEnable(t *testing.T) {
	fx := newFleetFixture(t, testConfig(), &stubSource{})
	rt := fx.fleet.runtime("alpha")
	for i := 0; i < 3; i++ {
		rt.breaker.RecordFailure("2026-03-02")
	}
	require.Empty(t, fx.fleet.Pairs())

	require.NoError(t, fx.fleet.ReEnable("alpha"))
	assert.Len(t, fx.fleet.Pairs(), 1)

	assert.Error(t, fx.fleet.ReEnable("alpha")) // not broken anymore
	assert.Error(t, fx.fleet.ReEnable("ghost"))
}

func TestStatusStates(t *testing.T) {
	cfg := testConfig()
	cfg.Accounts = append(cfg.Accounts, config.AccountConfig{
		ID: "bravo", Enabled: false, Strategy: "mean_revert", Instruments: []string{"ETHUSDT"},
	})
	fx := newFleetFixture(t, cfg, &stubSource{})

	status := fx.fleet.Status()
	require.Len(t, status, 2)
	assert.Equal(t, StateEnabled, status[0].State)
	assert.Equal(t, StateDisabled, status[1].State)

	rt := fx.fleet.runtime("alpha")
	for i := 0; i < 3; i++ {
		rt.breaker.RecordFailure("2026-03-02")
	}
	status = fx.fleet.Status()
	assert.Equal(t, StateCircuitBroken, status[0].State)
	assert.Equal(t, 3, status[0].Failures)
}

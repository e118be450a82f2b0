// Package app wires the engine together: registry, market data, broker,
// lifecycle manager, fleet, schedulers and the status surface.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"armada/internal/config"
	"armada/internal/gateway/binance"
	"armada/internal/gateway/notifier"
	"armada/internal/gateway/paper"
	"armada/internal/logger"
	"armada/internal/market"
	"armada/internal/position"
	"armada/internal/scheduler"
	"armada/internal/store"
	"armada/internal/trader"
	statushttp "armada/internal/transport/http/status"
)

type App struct {
	registry *config.Registry
	fleet    *trader.Fleet
	scanner  *scheduler.Scanner
	trades   *store.TradeStore
	sink     notifier.TextNotifier
	http     *statushttp.Server
	loc      *time.Location

	scanInterval time.Duration
	scanOffset   time.Duration
	runNow       bool
	slots        []scheduler.Slot
}

// New builds the application from a validated registry. Nothing starts
// until Run.
func New(registry *config.Registry) (*App, error) {
	if registry == nil {
		return nil, fmt.Errorf("app: nil registry")
	}
	snap := registry.Snapshot()
	cfg := snap.Config
	if cfg == nil {
		return nil, fmt.Errorf("app: registry has no config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	registry.OnChange(func(snap config.Snapshot) {
		logger.SetLevel(snap.Config.App.LogLevel)
	})

	loc, err := time.LoadLocation(cfg.Broker.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: broker timezone: %w", err)
	}

	scanInterval, err := config.IntervalDuration(cfg.Scan.Interval)
	if err != nil {
		return nil, fmt.Errorf("app: scan interval: %w", err)
	}
	scanOffset, err := time.ParseDuration(cfg.Scan.Offset)
	if err != nil {
		return nil, fmt.Errorf("app: scan offset: %w", err)
	}
	slots := make([]scheduler.Slot, 0, len(cfg.Scan.Slots))
	for _, raw := range cfg.Scan.Slots {
		slot, err := scheduler.ParseSlot(raw)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		slots = append(slots, slot)
	}

	var sink notifier.TextNotifier = notifier.Noop{}
	if cfg.Notify.Telegram.Enabled {
		sink = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	balances := make(map[string]float64, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		balances[acct.ID] = cfg.Broker.StartingBalance
	}
	paperBroker := paper.New(balances, cfg.Broker.Currency)

	source := binance.New(binance.Config{
		RESTBaseURL: cfg.Market.RESTBaseURL,
		HTTPTimeout: cfg.Broker.Timeout(),
	})
	candleStore := market.NewMemoryStore(cfg.Market.MaxCached)

	trades, err := store.NewTradeStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("app: trade store: %w", err)
	}

	manager := position.NewManager(paperBroker, sink, trades)
	counters := scheduler.NewDailyCounters()

	fleet := trader.NewFleet(trader.Deps{
		Registry: registry,
		Store:    candleStore,
		Source:   source,
		Broker:   paperBroker,
		Manager:  manager,
		Counters: counters,
		Sink:     sink,
		Marks:    paperBroker,
		BrokerTZ: loc,
	})

	a := &App{
		registry:     registry,
		fleet:        fleet,
		trades:       trades,
		sink:         sink,
		loc:          loc,
		scanInterval: scanInterval,
		scanOffset:   scanOffset,
		runNow:       cfg.Scan.RunImmediately,
		slots:        slots,
	}
	a.scanner = scheduler.NewScanner(fleet, counters, loc, a.onRollover)

	httpSrv, err := statushttp.NewServer(statushttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Fleet:    fleet,
		Trades:   trades,
		BrokerTZ: loc,
	})
	if err != nil {
		return nil, fmt.Errorf("app: status server: %w", err)
	}
	a.http = httpSrv

	logger.Infof("App built: %d accounts, scan %s+%s, broker=%s tz=%s",
		len(cfg.Accounts), cfg.Scan.Interval, cfg.Scan.Offset, cfg.Broker.Mode, loc)
	return a, nil
}

// onRollover sends the previous day's realized summary once the counters
// reset for the new trading day.
func (a *App) onRollover(tradingDay string) {
	day, err := time.ParseInLocation("2006-01-02", tradingDay, a.loc)
	if err != nil {
		return
	}
	prevStart := day.Add(-24 * time.Hour)
	summary, err := a.trades.DailySummary(prevStart)
	if err != nil {
		logger.Warnf("Daily summary query failed: %v", err)
		return
	}
	lines := make([]string, 0, len(summary))
	for _, s := range summary {
		lines = append(lines, fmt.Sprintf("%s: %d trades, pnl %.2f", s.AccountID, s.Trades, s.PnL))
	}
	if len(lines) == 0 {
		lines = append(lines, "no trades")
	}
	notifier.DailySummary(a.sink, prevStart.Format("2006-01-02"), lines)
}

// Run starts the status server and the scan loops, blocking until ctx
// cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		sweep := scheduler.NewIntervalScheduler(ctx, a.scanInterval, a.scanOffset)
		sweep.RunImmediately = a.runNow
		sweep.Start(func(now time.Time) {
			a.scanner.Tick(ctx, now)
		})
		return nil
	})

	if len(a.slots) > 0 {
		group.Go(func() error {
			slotted := scheduler.NewSlotScheduler(ctx, "session", a.slots, a.loc)
			slotted.Start(func(now time.Time) {
				a.scanner.Tick(ctx, now)
			})
			return nil
		})
	}

	err := group.Wait()
	a.scanner.Wait()
	if closeErr := a.trades.Close(); closeErr != nil {
		logger.Warnf("Trade store close failed: %v", closeErr)
	}
	return err
}

// Fleet exposes the fleet for operator tooling and tests.
func (a *App) Fleet() *trader.Fleet { return a.fleet }

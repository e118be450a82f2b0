package position

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armada/internal/gateway/broker"
	"armada/internal/gateway/notifier"
	"armada/internal/gateway/paper"
)

const testAccount = "acct-1"

type recordSink struct {
	mu   sync.Mutex
	recs []TradeClose
}

func (r *recordSink) RecordClose(rec TradeClose) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *recordSink) all() []TradeClose {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TradeClose(nil), r.recs...)
}

func newTestManager(t *testing.T) (*Manager, *paper.Broker, *recordSink) {
	t.Helper()
	pb := paper.New(map[string]float64{testAccount: 10_000}, "USDT")
	sink := &recordSink{}
	m := NewManager(pb, notifier.Noop{}, sink)
	m.retryBase = time.Millisecond
	return m, pb, sink
}

func openAt(t *testing.T, m *Manager, pb *paper.Broker, entry, stop, target float64) string {
	t.Helper()
	pb.PublishMark("BTCUSDT", entry)
	id, err := m.Submit(context.Background(), SubmitArgs{
		AccountID:   testAccount,
		Strategy:    "trend_cross",
		Symbol:      "BTCUSDT",
		Side:        broker.SideLong,
		Size:        2,
		StopPrice:   stop,
		TargetPrice: target,
	})
	require.NoError(t, err)
	return id
}

func TestSubmitRefusesMissingLegs(t *testing.T) {
	m, _, _ := newTestManager(t)

	for name, args := range map[string]SubmitArgs{
		"no stop":   {AccountID: testAccount, Symbol: "BTCUSDT", Side: broker.SideLong, Size: 1, TargetPrice: 110},
		"no target": {AccountID: testAccount, Symbol: "BTCUSDT", Side: broker.SideLong, Size: 1, StopPrice: 95},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Submit(context.Background(), args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "protective legs")
			assert.Zero(t, m.OpenCount(testAccount))
		})
	}
}

func TestSubmitRecordsInitialRisk(t *testing.T) {
	m, pb, _ := newTestManager(t)
	id := openAt(t, m, pb, 100, 95, 115)

	open := m.Open(testAccount)
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].ID)
	assert.Equal(t, 5.0, open[0].InitialRisk)
	assert.Equal(t, StateOpen, open[0].State)
	assert.InDelta(t, 10.0, m.OpenRisk(testAccount), 1e-9) // size 2 * risk 5
}

// Entry 100, stop 95, breakeven once profit reaches one initial risk: at
// 106 the stop moves to entry and the position stays open.
func TestBreakevenShift(t *testing.T) {
	m, pb, _ := newTestManager(t)
	openAt(t, m, pb, 100, 95, 120)

	rules := Rules{BreakevenAtR: 1.0}
	pb.PublishMark("BTCUSDT", 106)
	m.ManageOpenPositions(context.Background(), testAccount, rules, time.Now())

	open := m.Open(testAccount)
	require.Len(t, open, 1)
	assert.Equal(t, 100.0, open[0].StopPrice)
	assert.True(t, open[0].Breakeven)
	assert.Equal(t, StateOpen, open[0].State)

	// second cycle at the same price must not touch the stop again
	m.ManageOpenPositions(context.Background(), testAccount, rules, time.Now())
	assert.Equal(t, 100.0, m.Open(testAccount)[0].StopPrice)
}

func TestMaxHoldForcesTimeExit(t *testing.T) {
	m, pb, sink := newTestManager(t)
	openAt(t, m, pb, 100, 95, 200)

	// in profit, nowhere near stop or target, held too long
	pb.PublishMark("BTCUSDT", 106)
	opened := m.Open(testAccount)[0].OpenedAt
	rules := Rules{MaxHold: 2 * time.Hour}
	m.ManageOpenPositions(context.Background(), testAccount, rules, opened.Add(3*time.Hour))

	assert.Zero(t, m.OpenCount(testAccount))
	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, string(ExitTimeOut), recs[0].Reason)
	assert.InDelta(t, 12.0, recs[0].PnL, 1e-9) // +6 per unit, size 2
}

func TestStopBreachCloses(t *testing.T) {
	m, pb, sink := newTestManager(t)
	openAt(t, m, pb, 100, 95, 120)

	pb.PublishMark("BTCUSDT", 94.5)
	m.ManageOpenPositions(context.Background(), testAccount, Rules{}, time.Now())

	assert.Zero(t, m.OpenCount(testAccount))
	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, string(ExitStop), recs[0].Reason)
	assert.Negative(t, recs[0].PnL)
}

func TestTargetHitCloses(t *testing.T) {
	m, pb, sink := newTestManager(t)
	openAt(t, m, pb, 100, 95, 110)

	pb.PublishMark("BTCUSDT", 111)
	m.ManageOpenPositions(context.Background(), testAccount, Rules{}, time.Now())

	assert.Zero(t, m.OpenCount(testAccount))
	require.Len(t, sink.all(), 1)
	assert.Equal(t, string(ExitTarget), sink.all()[0].Reason)
}

// A partial close realizes P&L against the same position: half the size
// comes off, the remainder keeps its legs, no child position appears.
func TestPartialTakeProfit(t *testing.T) {
	m, pb, sink := newTestManager(t)
	openAt(t, m, pb, 100, 95, 130)

	rules := Rules{PartialAtR: 1.0, PartialRatio: 0.5}
	pb.PublishMark("BTCUSDT", 106)
	m.ManageOpenPositions(context.Background(), testAccount, rules, time.Now())

	open := m.Open(testAccount)
	require.Len(t, open, 1)
	assert.Equal(t, StatePartiallyClosed, open[0].State)
	assert.InDelta(t, 1.0, open[0].Size, 1e-9)
	assert.Equal(t, 2.0, open[0].InitialSize)
	assert.Equal(t, 95.0, open[0].StopPrice)
	assert.Equal(t, 130.0, open[0].TargetPrice)
	assert.True(t, open[0].PartialDone)
	assert.InDelta(t, 6.0, open[0].RealizedPnL, 1e-9)

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Partial)

	// the partial fires once; the next cycle at the same price is a no-op
	m.ManageOpenPositions(context.Background(), testAccount, rules, time.Now())
	assert.InDelta(t, 1.0, m.Open(testAccount)[0].Size, 1e-9)
	assert.Len(t, sink.all(), 1)
}

func TestTrailingStop(t *testing.T) {
	m, pb, sink := newTestManager(t)
	openAt(t, m, pb, 100, 95, 200)
	rules := Rules{TrailingAtR: 1.0, TrailDistanceR: 1.0}

	// arming tick
	pb.PublishMark("BTCUSDT", 106)
	m.ManageOpenPositions(context.Background(), testAccount, rules, time.Now())
	open := m.Open(testAccount)
	require.Len(t, open, 1)
	assert.True(t, open[0].Trailing)
	assert.Equal(t, 106.0, open[0].TrailAnchor)

	// new high drags the stop to anchor minus one risk unit
	pb.PublishMark("BTCUSDT", 110)
	m.ManageOpenPositions(context.Background(), testAccount, rules, time.Now())
	open = m.Open(testAccount)
	assert.Equal(t, 110.0, open[0].TrailAnchor)
	assert.Equal(t, 105.0, open[0].StopPrice)

	// pullback through the trailed stop closes with reason trailing
	pb.PublishMark("BTCUSDT", 104)
	m.ManageOpenPositions(context.Background(), testAccount, rules, time.Now())
	assert.Zero(t, m.OpenCount(testAccount))
	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, string(ExitTrailing), recs[0].Reason)
	assert.Positive(t, recs[0].PnL)
}

func TestManualClose(t *testing.T) {
	m, pb, sink := newTestManager(t)
	id := openAt(t, m, pb, 100, 95, 120)

	pb.PublishMark("BTCUSDT", 103)
	require.NoError(t, m.ManualClose(context.Background(), testAccount, id))
	assert.Zero(t, m.OpenCount(testAccount))
	require.Len(t, sink.all(), 1)
	assert.Equal(t, string(ExitManual), sink.all()[0].Reason)

	assert.Error(t, m.ManualClose(context.Background(), testAccount, "missing"))
}

type flakyBroker struct {
	*paper.Broker
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyBroker) Submit(ctx context.Context, req broker.SubmitRequest) (broker.SubmitResult, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return broker.SubmitResult{}, broker.Transient(context.DeadlineExceeded)
	}
	return f.Broker.Submit(ctx, req)
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	pb := paper.New(map[string]float64{testAccount: 10_000}, "USDT")
	pb.PublishMark("BTCUSDT", 100)
	flaky := &flakyBroker{Broker: pb, failures: 2}
	m := NewManager(flaky, notifier.Noop{}, nil)
	m.retryBase = time.Millisecond

	_, err := m.Submit(context.Background(), SubmitArgs{
		AccountID: testAccount, Symbol: "BTCUSDT", Side: broker.SideLong,
		Size: 1, StopPrice: 95, TargetPrice: 110,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
}

func TestSubmitDoesNotRetryRejections(t *testing.T) {
	m, pb, _ := newTestManager(t)
	pb.PublishMark("BTCUSDT", 100)

	_, err := m.Submit(context.Background(), SubmitArgs{
		AccountID: "ghost", Symbol: "BTCUSDT", Side: broker.SideLong,
		Size: 1, StopPrice: 95, TargetPrice: 110,
	})
	require.Error(t, err)
	assert.True(t, broker.IsRejection(err))
}

func TestCloseHookObservesEveryClose(t *testing.T) {
	m, pb, _ := newTestManager(t)
	var seen []TradeClose
	m.SetCloseHook(func(rec TradeClose) { seen = append(seen, rec) })

	openAt(t, m, pb, 100, 95, 110)
	pb.PublishMark("BTCUSDT", 111)
	m.ManageOpenPositions(context.Background(), testAccount, Rules{}, time.Now())

	require.Len(t, seen, 1)
	assert.Equal(t, testAccount, seen[0].AccountID)
}

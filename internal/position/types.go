package position

import (
	"time"

	"armada/internal/gateway/broker"
)

type State string

const (
	StateOpen            State = "OPEN"
	StatePartiallyClosed State = "PARTIALLY_CLOSED"
	StateClosed          State = "CLOSED"
)

type ExitReason string

const (
	ExitStop     ExitReason = "stop"
	ExitTarget   ExitReason = "target"
	ExitTrailing ExitReason = "trailing"
	ExitTimeOut  ExitReason = "time_exit"
	ExitManual   ExitReason = "manual"
)

// Position is owned exclusively by the Manager: created on fill, mutated on
// every management cycle, terminal once State is CLOSED.
type Position struct {
	ID          string
	AccountID   string
	Strategy    string
	Symbol      string
	Side        broker.Side
	Size        float64
	InitialSize float64
	EntryPrice  float64
	StopPrice   float64
	TargetPrice float64
	// InitialRisk is |entry - original stop|; lifecycle thresholds are
	// expressed in multiples of it.
	InitialRisk float64
	OpenedAt    time.Time
	State       State
	Breakeven   bool
	PartialDone bool
	Trailing    bool
	TrailAnchor float64
	RealizedPnL float64
	ExitPrice   float64
	ExitReason  ExitReason
	ClosedAt    time.Time
}

// Rules are the lifecycle thresholds for one strategy binding, in multiples
// of the position's initial risk (R).
type Rules struct {
	BreakevenAtR   float64
	PartialAtR     float64
	PartialRatio   float64
	TrailingAtR    float64
	TrailDistanceR float64
	MaxHold        time.Duration
}

// TradeClose is the record handed to the history sink when a position (or a
// slice of it) is closed.
type TradeClose struct {
	PositionID string
	AccountID  string
	Strategy   string
	Symbol     string
	Side       string
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Reason     string
	OpenedAt   time.Time
	ClosedAt   time.Time
	Partial    bool
}

// Recorder is the write-only history sink. Failures are logged, never
// propagated into the trading path.
type Recorder interface {
	RecordClose(rec TradeClose) error
}

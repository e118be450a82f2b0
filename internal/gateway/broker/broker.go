// Package broker defines the abstract contract for the remote broker the
// engine trades against. The core depends only on this interface, never on a
// specific broker's wire format.
package broker

import (
	"context"
	"time"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Balance is the broker's view of one account.
type Balance struct {
	AccountID string
	Currency  string
	Total     float64
	Available float64
	UpdatedAt time.Time
}

// SubmitRequest opens a position with both protective legs attached. The
// lifecycle manager refuses to build a request missing either leg; the broker
// may additionally reject one for margin or size reasons.
type SubmitRequest struct {
	AccountID     string
	Symbol        string
	Side          Side
	Size          float64
	StopPrice     float64
	TargetPrice   float64
	ClientOrderID string
}

type SubmitResult struct {
	PositionID string
	EntryPrice float64
	FilledAt   time.Time
}

// CloseRequest closes a position fully (Size == 0) or partially.
type CloseRequest struct {
	AccountID  string
	PositionID string
	Size       float64
	Reason     string
}

type CloseResult struct {
	ExitPrice float64
	ClosedAt  time.Time
}

type Broker interface {
	Name() string

	AccountBalance(ctx context.Context, accountID string) (Balance, error)

	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)

	// ModifyStop moves a position's stop leg (breakeven shift, trailing).
	ModifyStop(ctx context.Context, accountID, positionID string, stopPrice float64) error

	Close(ctx context.Context, req CloseRequest) (CloseResult, error)

	// MarkPrice returns the broker's current mark for the instrument.
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

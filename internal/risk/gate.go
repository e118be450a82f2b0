// Package risk decides whether a signal becomes an order, and at what size.
// Rejection is a first-class outcome: a cycle in which every signal is
// rejected is healthy, and the gate never loosens a threshold to force a
// trade through.
package risk

import (
	"fmt"
	"time"

	"armada/internal/strategy"
)

type Reason string

const (
	ReasonNone          Reason = ""
	ReasonConfidence    Reason = "confidence below threshold"
	ReasonDailyLimit    Reason = "daily limit reached"
	ReasonPositionLimit Reason = "open position limit reached"
	ReasonPortfolioRisk Reason = "portfolio risk ceiling"
	ReasonSpread        Reason = "spread filter failed"
	ReasonVolatility    Reason = "volatility filter failed"
	ReasonSession       Reason = "outside trading session"
	ReasonBadSignal     Reason = "malformed signal"
)

// Limits are the per-binding risk parameters, immutable for the trading day
// once loaded.
type Limits struct {
	MaxRiskPerTrade  float64
	MaxPortfolioRisk float64
	MaxOpenPositions int
	MaxTradesPerDay  int
	MinConfidence    float64
	Filters          Filters
}

type Filters struct {
	// MaxSpreadPct rejects when the quoted spread exceeds this fraction of
	// price. Zero disables the filter.
	MaxSpreadPct float64
	// MaxStopDistancePct rejects when the suggested stop distance exceeds
	// this fraction of price (a runaway-volatility guard). Zero disables.
	MaxStopDistancePct float64
	// SessionStartHour/SessionEndHour bound the UTC trading session.
	// Equal values disable the filter.
	SessionStartHour int
	SessionEndHour   int
}

// AccountState is the gate's read of the account as of the start of the
// evaluation; it is not mutated mid-evaluation for the same pair.
type AccountState struct {
	Balance       float64
	OpenPositions int
	OpenRisk      float64
	TradesToday   int
	SpreadPct     float64
}

type Decision struct {
	Accepted    bool
	Reason      Reason
	Detail      string
	Size        float64
	StopPrice   float64
	TargetPrice float64
}

func reject(reason Reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Evaluate validates the signal against quota and filter limits and computes
// the final order size. price is the instrument's latest close; at is the
// cycle's wall-clock time (session filter only).
func Evaluate(acct AccountState, limits Limits, sig *strategy.Signal, price float64, at time.Time) Decision {
	if sig == nil || price <= 0 || sig.StopDistance <= 0 || sig.TargetDistance <= 0 {
		return reject(ReasonBadSignal, "signal missing protective distances")
	}
	if sig.Confidence < limits.MinConfidence {
		return reject(ReasonConfidence,
			fmt.Sprintf("confidence %.2f < min %.2f", sig.Confidence, limits.MinConfidence))
	}
	if limits.MaxTradesPerDay > 0 && acct.TradesToday >= limits.MaxTradesPerDay {
		return reject(ReasonDailyLimit,
			fmt.Sprintf("%d trades today, limit %d", acct.TradesToday, limits.MaxTradesPerDay))
	}
	if limits.MaxOpenPositions > 0 && acct.OpenPositions >= limits.MaxOpenPositions {
		return reject(ReasonPositionLimit,
			fmt.Sprintf("%d open, limit %d", acct.OpenPositions, limits.MaxOpenPositions))
	}
	if f := limits.Filters; f.MaxSpreadPct > 0 && acct.SpreadPct > f.MaxSpreadPct {
		return reject(ReasonSpread,
			fmt.Sprintf("spread %.4f%% > max %.4f%%", acct.SpreadPct*100, f.MaxSpreadPct*100))
	}
	if f := limits.Filters; f.MaxStopDistancePct > 0 && sig.StopDistance/price > f.MaxStopDistancePct {
		return reject(ReasonVolatility,
			fmt.Sprintf("stop distance %.2f%% of price > max %.2f%%",
				sig.StopDistance/price*100, f.MaxStopDistancePct*100))
	}
	if f := limits.Filters; f.SessionStartHour != f.SessionEndHour && !inSession(at, f.SessionStartHour, f.SessionEndHour) {
		return reject(ReasonSession,
			fmt.Sprintf("hour %d outside [%d,%d)", at.UTC().Hour(), f.SessionStartHour, f.SessionEndHour))
	}
	if acct.Balance <= 0 {
		return reject(ReasonPortfolioRisk, "no balance")
	}

	riskBudget := acct.Balance * limits.MaxRiskPerTrade
	size := riskBudget / sig.StopDistance

	// portfolio ceiling: summed open risk may never exceed the fraction
	if limits.MaxPortfolioRisk > 0 {
		ceiling := acct.Balance * limits.MaxPortfolioRisk
		headroom := ceiling - acct.OpenRisk
		if headroom <= 0 {
			return reject(ReasonPortfolioRisk,
				fmt.Sprintf("open risk %.2f >= ceiling %.2f", acct.OpenRisk, ceiling))
		}
		if size*sig.StopDistance > headroom {
			size = headroom / sig.StopDistance
		}
	}
	if size <= 0 {
		return reject(ReasonPortfolioRisk, "computed size is zero")
	}

	var stop, target float64
	if sig.Direction == strategy.Short {
		stop = price + sig.StopDistance
		target = price - sig.TargetDistance
	} else {
		stop = price - sig.StopDistance
		target = price + sig.TargetDistance
	}
	if stop <= 0 || target <= 0 {
		return reject(ReasonBadSignal, "derived protective price not positive")
	}

	return Decision{
		Accepted:    true,
		Size:        size,
		StopPrice:   stop,
		TargetPrice: target,
	}
}

func inSession(at time.Time, start, end int) bool {
	hour := at.UTC().Hour()
	if start < end {
		return hour >= start && hour < end
	}
	// overnight session, e.g. 22-6
	return hour >= start || hour < end
}

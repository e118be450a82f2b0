package position

import (
	"math"

	"github.com/shopspring/decimal"

	"armada/internal/gateway/broker"
)

// Float comparisons around stop/target levels go through decimal so a few
// ulps of drift never flips a fill decision.

var decimalEps = decimal.NewFromFloat(1e-8)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }

func breachedStop(side broker.Side, price, stop float64) bool {
	if stop <= 0 || price <= 0 {
		return false
	}
	if side == broker.SideShort {
		return decimalGTE(price, stop)
	}
	return decimalLTE(price, stop)
}

func hitTarget(side broker.Side, price, target float64) bool {
	if target <= 0 || price <= 0 {
		return false
	}
	if side == broker.SideShort {
		return decimalLTE(price, target)
	}
	return decimalGTE(price, target)
}

// profitOf is the per-unit favorable move, negative when under water.
func profitOf(side broker.Side, entry, price float64) float64 {
	if side == broker.SideShort {
		return entry - price
	}
	return price - entry
}

func trailingStopFor(side broker.Side, anchor, distance float64) float64 {
	if anchor <= 0 || distance <= 0 {
		return 0
	}
	if side == broker.SideShort {
		return anchor + distance
	}
	return anchor - distance
}

func betterAnchor(side broker.Side, price, anchor float64) bool {
	if price <= 0 {
		return false
	}
	if anchor <= 0 {
		return true
	}
	if side == broker.SideShort {
		return price < anchor
	}
	return price > anchor
}

// tighterStop reports whether candidate improves on current in the
// protective direction.
func tighterStop(side broker.Side, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	cand := decFromFloat(candidate)
	curr := decFromFloat(current)
	if side == broker.SideShort {
		return cand.Cmp(curr.Sub(decimalEps)) < 0
	}
	return cand.Cmp(curr.Add(decimalEps)) > 0
}

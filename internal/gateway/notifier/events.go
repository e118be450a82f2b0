package notifier

import (
	"fmt"
	"time"

	"armada/internal/logger"
)

// Dispatch sends a structured message without blocking the caller. A failed
// delivery is logged and dropped; trading decisions never roll back on it.
func Dispatch(sink TextNotifier, msg StructuredMessage) {
	if sink == nil {
		return
	}
	go func() {
		if err := sink.SendText(msg.RenderMarkdown()); err != nil {
			logger.Warnf("notifier: delivery failed (%s): %v", msg.Title, err)
		}
	}()
}

func PositionOpened(sink TextNotifier, account, symbol, side string, size, entry, stop, target float64) {
	Dispatch(sink, StructuredMessage{
		Icon:  "🟢",
		Title: "Position opened",
		Sections: []MessageSection{{
			Lines: []string{
				"account: " + account,
				fmt.Sprintf("%s %s size=%.6f", symbol, side, size),
				fmt.Sprintf("entry=%.4f stop=%.4f target=%.4f", entry, stop, target),
			},
		}},
		Timestamp: time.Now(),
	})
}

func PositionClosed(sink TextNotifier, account, symbol, side, reason string, size, exit, pnl float64) {
	icon := "🔵"
	if pnl < 0 {
		icon = "🔴"
	}
	Dispatch(sink, StructuredMessage{
		Icon:  icon,
		Title: "Position closed",
		Sections: []MessageSection{{
			Lines: []string{
				"account: " + account,
				fmt.Sprintf("%s %s size=%.6f exit=%.4f", symbol, side, size, exit),
				fmt.Sprintf("pnl=%.4f reason=%s", pnl, reason),
			},
		}},
		Timestamp: time.Now(),
	})
}

func TradeRejected(sink TextNotifier, account, symbol, reason string) {
	Dispatch(sink, StructuredMessage{
		Icon:  "⚠️",
		Title: "Order rejected",
		Sections: []MessageSection{{
			Lines: []string{
				"account: " + account,
				"symbol: " + symbol,
				"reason: " + reason,
			},
		}},
		Timestamp: time.Now(),
	})
}

func CircuitTripped(sink TextNotifier, account string, failures int) {
	Dispatch(sink, StructuredMessage{
		Icon:  "⛔",
		Title: "Circuit breaker tripped",
		Sections: []MessageSection{{
			Lines: []string{
				"account: " + account,
				fmt.Sprintf("failures today: %d", failures),
				"trading suspended until operator re-enable",
			},
		}},
		Timestamp: time.Now(),
	})
}

func DailySummary(sink TextNotifier, tradingDay string, lines []string) {
	Dispatch(sink, StructuredMessage{
		Icon:      "📊",
		Title:     "Daily summary " + tradingDay,
		Sections:  []MessageSection{{Lines: lines}},
		Timestamp: time.Now(),
	})
}

package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/mitchellh/mapstructure"

	"armada/internal/market"
)

// trendCross trades EMA fast/slow crossovers with ATR-scaled protective
// distances.
type trendCross struct {
	fast      int
	slow      int
	atrPeriod int
	stopATR   float64
	targetATR float64
}

type trendParams struct {
	FastPeriod int     `mapstructure:"fast_period"`
	SlowPeriod int     `mapstructure:"slow_period"`
	ATRPeriod  int     `mapstructure:"atr_period"`
	StopATR    float64 `mapstructure:"stop_atr"`
	TargetATR  float64 `mapstructure:"target_atr"`
}

func init() {
	Register("trend_cross", newTrendCross, map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"fast_period": map[string]any{"type": "integer", "minimum": 2},
			"slow_period": map[string]any{"type": "integer", "minimum": 3},
			"atr_period":  map[string]any{"type": "integer", "minimum": 2},
			"stop_atr":    map[string]any{"type": "number", "exclusiveMinimum": 0},
			"target_atr":  map[string]any{"type": "number", "exclusiveMinimum": 0},
		},
	})
}

func newTrendCross(params map[string]any) (Strategy, error) {
	p := trendParams{FastPeriod: 21, SlowPeriod: 50, ATRPeriod: 14, StopATR: 1.5, TargetATR: 3.0}
	if err := mapstructure.Decode(params, &p); err != nil {
		return nil, fmt.Errorf("trend_cross: bad params: %w", err)
	}
	if p.FastPeriod >= p.SlowPeriod {
		return nil, fmt.Errorf("trend_cross: fast_period must be < slow_period")
	}
	return &trendCross{
		fast:      p.FastPeriod,
		slow:      p.SlowPeriod,
		atrPeriod: p.ATRPeriod,
		stopATR:   p.StopATR,
		targetATR: p.TargetATR,
	}, nil
}

func (s *trendCross) Kind() string { return "trend_cross" }

func (s *trendCross) Warmup() int {
	warmup := s.slow
	if s.atrPeriod > warmup {
		warmup = s.atrPeriod
	}
	return warmup + 2
}

func (s *trendCross) Evaluate(window []market.Candle) (*Signal, error) {
	if len(window) < s.Warmup() {
		return nil, nil
	}
	cl := closes(window)
	fast := talib.Ema(cl, s.fast)
	slow := talib.Ema(cl, s.slow)
	atr := talib.Atr(highs(window), lows(window), cl, s.atrPeriod)

	atrVal := lastValid(atr)
	if atrVal <= 0 {
		return nil, nil
	}
	last := window[len(window)-1]

	var dir Direction
	switch {
	case crossedUp(fast, slow):
		dir = Long
	case crossedDown(fast, slow):
		dir = Short
	default:
		return nil, nil
	}

	// separation of the averages in ATR units, saturating at 1.0
	sep := fast[len(fast)-1] - slow[len(slow)-1]
	if dir == Short {
		sep = -sep
	}
	confidence := clampConfidence(0.5 + sep/(2*atrVal))

	return &Signal{
		Symbol:         "",
		Direction:      dir,
		Confidence:     confidence,
		StopDistance:   s.stopATR * atrVal,
		TargetDistance: s.targetATR * atrVal,
		GeneratedAt:    last.CloseTime,
		Comment:        fmt.Sprintf("ema%d/%d cross", s.fast, s.slow),
	}, nil
}

func crossedUp(a, b []float64) bool {
	n := len(a)
	if n < 2 || len(b) < 2 {
		return false
	}
	return a[n-2] <= b[len(b)-2] && a[n-1] > b[len(b)-1]
}

func crossedDown(a, b []float64) bool {
	n := len(a)
	if n < 2 || len(b) < 2 {
		return false
	}
	return a[n-2] >= b[len(b)-2] && a[n-1] < b[len(b)-1]
}

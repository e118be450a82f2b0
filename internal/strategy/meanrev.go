package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/mitchellh/mapstructure"

	"armada/internal/market"
)

// meanRevert fades RSI extremes confirmed by a Bollinger band touch. The
// target is the middle band, the stop sits one ATR multiple beyond entry.
type meanRevert struct {
	rsiPeriod  int
	oversold   float64
	overbought float64
	bandPeriod int
	bandWidth  float64
	atrPeriod  int
	stopATR    float64
}

type meanRevertParams struct {
	RSIPeriod  int     `mapstructure:"rsi_period"`
	Oversold   float64 `mapstructure:"oversold"`
	Overbought float64 `mapstructure:"overbought"`
	BandPeriod int     `mapstructure:"band_period"`
	BandWidth  float64 `mapstructure:"band_width"`
	ATRPeriod  int     `mapstructure:"atr_period"`
	StopATR    float64 `mapstructure:"stop_atr"`
}

func init() {
	Register("mean_revert", newMeanRevert, map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"rsi_period":  map[string]any{"type": "integer", "minimum": 2},
			"oversold":    map[string]any{"type": "number", "minimum": 1, "maximum": 50},
			"overbought":  map[string]any{"type": "number", "minimum": 50, "maximum": 99},
			"band_period": map[string]any{"type": "integer", "minimum": 5},
			"band_width":  map[string]any{"type": "number", "exclusiveMinimum": 0},
			"atr_period":  map[string]any{"type": "integer", "minimum": 2},
			"stop_atr":    map[string]any{"type": "number", "exclusiveMinimum": 0},
		},
	})
}

func newMeanRevert(params map[string]any) (Strategy, error) {
	p := meanRevertParams{
		RSIPeriod:  14,
		Oversold:   30,
		Overbought: 70,
		BandPeriod: 20,
		BandWidth:  2.0,
		ATRPeriod:  14,
		StopATR:    1.5,
	}
	if err := mapstructure.Decode(params, &p); err != nil {
		return nil, fmt.Errorf("mean_revert: bad params: %w", err)
	}
	if p.Oversold >= p.Overbought {
		return nil, fmt.Errorf("mean_revert: oversold must be < overbought")
	}
	return &meanRevert{
		rsiPeriod:  p.RSIPeriod,
		oversold:   p.Oversold,
		overbought: p.Overbought,
		bandPeriod: p.BandPeriod,
		bandWidth:  p.BandWidth,
		atrPeriod:  p.ATRPeriod,
		stopATR:    p.StopATR,
	}, nil
}

func (s *meanRevert) Kind() string { return "mean_revert" }

func (s *meanRevert) Warmup() int {
	warmup := s.bandPeriod
	if s.rsiPeriod > warmup {
		warmup = s.rsiPeriod
	}
	if s.atrPeriod > warmup {
		warmup = s.atrPeriod
	}
	return warmup + 2
}

func (s *meanRevert) Evaluate(window []market.Candle) (*Signal, error) {
	if len(window) < s.Warmup() {
		return nil, nil
	}
	cl := closes(window)
	upper, middle, lower := talib.BBands(cl, s.bandPeriod, s.bandWidth, s.bandWidth, talib.SMA)
	rsi := lastValid(talib.Rsi(cl, s.rsiPeriod))
	atrVal := lastValid(talib.Atr(highs(window), lows(window), cl, s.atrPeriod))
	if atrVal <= 0 {
		return nil, nil
	}

	last := window[len(window)-1]
	up := lastValid(upper)
	mid := lastValid(middle)
	low := lastValid(lower)
	if mid <= 0 {
		return nil, nil
	}

	var dir Direction
	var stretch float64
	switch {
	case rsi <= s.oversold && last.Close <= low:
		dir = Long
		stretch = mid - last.Close
	case rsi >= s.overbought && last.Close >= up:
		dir = Short
		stretch = last.Close - mid
	default:
		return nil, nil
	}
	if stretch <= 0 {
		return nil, nil
	}

	// the deeper the RSI extreme, the stronger the fade
	var depth float64
	if dir == Long {
		depth = (s.oversold - rsi) / s.oversold
	} else {
		depth = (rsi - s.overbought) / (100 - s.overbought)
	}
	confidence := clampConfidence(0.5 + depth)

	return &Signal{
		Direction:      dir,
		Confidence:     confidence,
		StopDistance:   s.stopATR * atrVal,
		TargetDistance: stretch,
		GeneratedAt:    last.CloseTime,
		Comment:        fmt.Sprintf("rsi=%.1f band fade", rsi),
	}, nil
}

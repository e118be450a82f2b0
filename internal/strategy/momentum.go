package strategy

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/mitchellh/mapstructure"

	"armada/internal/market"
)

// momentum trades rate-of-change thrusts, filtered by ADX so ranging
// markets stay flat.
type momentum struct {
	rocPeriod    int
	rocThreshold float64
	adxPeriod    int
	minADX       float64
	atrPeriod    int
	stopATR      float64
	targetATR    float64
}

type momentumParams struct {
	ROCPeriod    int     `mapstructure:"roc_period"`
	ROCThreshold float64 `mapstructure:"roc_threshold"`
	ADXPeriod    int     `mapstructure:"adx_period"`
	MinADX       float64 `mapstructure:"min_adx"`
	ATRPeriod    int     `mapstructure:"atr_period"`
	StopATR      float64 `mapstructure:"stop_atr"`
	TargetATR    float64 `mapstructure:"target_atr"`
}

func init() {
	Register("momentum_adx", newMomentum, map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"roc_period":    map[string]any{"type": "integer", "minimum": 2},
			"roc_threshold": map[string]any{"type": "number", "exclusiveMinimum": 0},
			"adx_period":    map[string]any{"type": "integer", "minimum": 2},
			"min_adx":       map[string]any{"type": "number", "minimum": 0, "maximum": 100},
			"atr_period":    map[string]any{"type": "integer", "minimum": 2},
			"stop_atr":      map[string]any{"type": "number", "exclusiveMinimum": 0},
			"target_atr":    map[string]any{"type": "number", "exclusiveMinimum": 0},
		},
	})
}

func newMomentum(params map[string]any) (Strategy, error) {
	p := momentumParams{
		ROCPeriod:    9,
		ROCThreshold: 1.0,
		ADXPeriod:    14,
		MinADX:       25,
		ATRPeriod:    14,
		StopATR:      2.0,
		TargetATR:    3.0,
	}
	if err := mapstructure.Decode(params, &p); err != nil {
		return nil, fmt.Errorf("momentum_adx: bad params: %w", err)
	}
	return &momentum{
		rocPeriod:    p.ROCPeriod,
		rocThreshold: p.ROCThreshold,
		adxPeriod:    p.ADXPeriod,
		minADX:       p.MinADX,
		atrPeriod:    p.ATRPeriod,
		stopATR:      p.StopATR,
		targetATR:    p.TargetATR,
	}, nil
}

func (s *momentum) Kind() string { return "momentum_adx" }

func (s *momentum) Warmup() int {
	warmup := s.rocPeriod
	if v := 2 * s.adxPeriod; v > warmup {
		warmup = v
	}
	if s.atrPeriod > warmup {
		warmup = s.atrPeriod
	}
	return warmup + 2
}

func (s *momentum) Evaluate(window []market.Candle) (*Signal, error) {
	if len(window) < s.Warmup() {
		return nil, nil
	}
	cl := closes(window)
	hi := highs(window)
	lo := lows(window)

	roc := lastValid(talib.Roc(cl, s.rocPeriod))
	adx := lastValid(talib.Adx(hi, lo, cl, s.adxPeriod))
	atrVal := lastValid(talib.Atr(hi, lo, cl, s.atrPeriod))
	if atrVal <= 0 || adx < s.minADX {
		return nil, nil
	}

	var dir Direction
	switch {
	case roc >= s.rocThreshold:
		dir = Long
	case roc <= -s.rocThreshold:
		dir = Short
	default:
		return nil, nil
	}

	// thrust strength and trend strength both feed confidence
	thrust := math.Abs(roc) / s.rocThreshold
	confidence := clampConfidence(0.4 + 0.2*(thrust-1) + (adx-s.minADX)/100)

	last := window[len(window)-1]
	return &Signal{
		Direction:      dir,
		Confidence:     confidence,
		StopDistance:   s.stopATR * atrVal,
		TargetDistance: s.targetATR * atrVal,
		GeneratedAt:    last.CloseTime,
		Comment:        fmt.Sprintf("roc=%.2f adx=%.1f", roc, adx),
	}, nil
}

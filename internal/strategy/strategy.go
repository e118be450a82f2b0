package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"armada/internal/market"
)

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Signal is a strategy's directional proposal for one instrument. It is
// consumed by the risk gate within the same cycle and never persisted.
// GeneratedAt carries the close time of the last bar in the window, not wall
// clock time, so evaluating the same window twice yields the same signal.
type Signal struct {
	Symbol         string
	Direction      Direction
	Confidence     float64
	StopDistance   float64
	TargetDistance float64
	GeneratedAt    int64
	Comment        string
}

// Strategy evaluates a read-only candle window and emits zero or one signal.
// Implementations must be pure with respect to the window: no broker state,
// no account state, no wall clock.
type Strategy interface {
	Kind() string
	Warmup() int
	Evaluate(window []market.Candle) (*Signal, error)
}

// Factory builds a strategy instance from its declarative parameters.
type Factory func(params map[string]any) (Strategy, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	schemas    = make(map[string]map[string]any)
)

// Register binds a strategy kind to its factory and parameter schema.
// Called from init() of each variant; duplicate kinds panic at startup.
func Register(kind string, factory Factory, schema map[string]any) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || factory == nil {
		panic("strategy: Register requires kind and factory")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := factories[kind]; dup {
		panic("strategy: duplicate kind " + kind)
	}
	factories[kind] = factory
	schemas[kind] = schema
}

func New(kind string, params map[string]any) (Strategy, error) {
	registryMu.RLock()
	factory, ok := factories[strings.ToLower(strings.TrimSpace(kind))]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy: unknown kind %q", kind)
	}
	return factory(params)
}

func Registered(kind string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[strings.ToLower(strings.TrimSpace(kind))]
	return ok
}

func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(factories))
	for kind := range factories {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// ParamSchema returns the JSON schema for a kind's parameters, nil when the
// kind accepts no parameters or is unknown.
func ParamSchema(kind string) map[string]any {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return schemas[strings.ToLower(strings.TrimSpace(kind))]
}

func closes(window []market.Candle) []float64 {
	out := make([]float64, len(window))
	for i, c := range window {
		out[i] = c.Close
	}
	return out
}

func highs(window []market.Candle) []float64 {
	out := make([]float64, len(window))
	for i, c := range window {
		out[i] = c.High
	}
	return out
}

func lows(window []market.Candle) []float64 {
	out := make([]float64, len(window))
	for i, c := range window {
		out[i] = c.Low
	}
	return out
}

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] == series[i] { // not NaN
			return series[i]
		}
	}
	return 0
}

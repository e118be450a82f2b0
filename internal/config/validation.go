package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"armada/internal/scheduler"
	"armada/internal/strategy"
)

func validate(c *Config) error {
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Scan.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("accounts requires at least one entry")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acct := &c.Accounts[i]
		if err := acct.validate(); err != nil {
			return err
		}
		if seen[acct.ID] {
			return fmt.Errorf("accounts contains duplicate id %q", acct.ID)
		}
		seen[acct.ID] = true
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if b.Mode != "paper" {
		return fmt.Errorf("broker.mode only supports 'paper', got %s", b.Mode)
	}
	if _, err := time.LoadLocation(b.Timezone); err != nil {
		return fmt.Errorf("broker.timezone invalid: %w", err)
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if m.Source != "binance" {
		return fmt.Errorf("market.source only supports 'binance', got %s", m.Source)
	}
	if !IsValidInterval(m.Interval) {
		return fmt.Errorf("market.interval %q is not a valid candle interval", m.Interval)
	}
	if m.History < 50 {
		return fmt.Errorf("market.history must be >= 50")
	}
	if m.MaxCached < 50 || m.MaxCached > 2000 {
		return fmt.Errorf("market.max_cached must be in [50,2000]")
	}
	return nil
}

func (s *ScanConfig) validate() error {
	if _, err := IntervalDuration(s.Interval); err != nil {
		return fmt.Errorf("scan.interval invalid: %w", err)
	}
	if _, err := time.ParseDuration(s.Offset); err != nil {
		return fmt.Errorf("scan.offset invalid: %w", err)
	}
	for _, raw := range s.Slots {
		if _, err := scheduler.ParseSlot(raw); err != nil {
			return fmt.Errorf("scan.slots: %w", err)
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func (a *AccountConfig) validate() error {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		return fmt.Errorf("account id cannot be empty")
	}
	kind := strings.ToLower(strings.TrimSpace(a.Strategy))
	if kind == "" {
		return fmt.Errorf("account %s: strategy cannot be empty", a.ID)
	}
	if !strategy.Registered(kind) {
		return fmt.Errorf("account %s: strategy %q is not registered (known: %s)",
			a.ID, kind, strings.Join(strategy.Kinds(), ", "))
	}
	a.Strategy = kind
	if err := validateStrategyParams(kind, a.Params); err != nil {
		return fmt.Errorf("account %s: %w", a.ID, err)
	}
	if len(a.Instruments) == 0 {
		return fmt.Errorf("account %s: instruments cannot be empty", a.ID)
	}
	for i, inst := range a.Instruments {
		inst = strings.ToUpper(strings.TrimSpace(inst))
		if inst == "" {
			return fmt.Errorf("account %s: instruments[%d] is empty", a.ID, i)
		}
		a.Instruments[i] = inst
	}
	if err := a.Risk.validate(a.ID); err != nil {
		return err
	}
	return a.Lifecycle.validate(a.ID)
}

func (r *RiskConfig) validate(accountID string) error {
	if r.MaxRiskPerTrade <= 0 || r.MaxRiskPerTrade > 1 {
		return fmt.Errorf("account %s: risk.max_risk_per_trade must be in (0,1]", accountID)
	}
	if r.MaxPortfolioRisk <= 0 || r.MaxPortfolioRisk > 1 {
		return fmt.Errorf("account %s: risk.max_portfolio_risk must be in (0,1]", accountID)
	}
	if r.MaxPortfolioRisk < r.MaxRiskPerTrade {
		return fmt.Errorf("account %s: risk.max_portfolio_risk must be >= max_risk_per_trade", accountID)
	}
	if r.MaxOpenPositions <= 0 {
		return fmt.Errorf("account %s: risk.max_open_positions must be > 0", accountID)
	}
	if r.MaxTradesPerDay <= 0 {
		return fmt.Errorf("account %s: risk.max_trades_per_day must be > 0", accountID)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("account %s: risk.min_confidence must be in [0,1]", accountID)
	}
	if r.SessionStartHour < 0 || r.SessionStartHour > 23 || r.SessionEndHour < 0 || r.SessionEndHour > 23 {
		return fmt.Errorf("account %s: risk session hours must be in [0,23]", accountID)
	}
	return nil
}

func (l *LifecycleConfig) validate(accountID string) error {
	if l.PartialRatio < 0 || l.PartialRatio >= 1 {
		return fmt.Errorf("account %s: lifecycle.partial_ratio must be in [0,1)", accountID)
	}
	if l.PartialAtR > 0 && l.PartialRatio == 0 {
		return fmt.Errorf("account %s: lifecycle.partial_at_r set but partial_ratio is 0", accountID)
	}
	if l.TrailingAtR > 0 && l.TrailDistanceR <= 0 {
		return fmt.Errorf("account %s: lifecycle.trailing_at_r set but trail_distance_r is 0", accountID)
	}
	if l.MaxHoldMinutes < 0 {
		return fmt.Errorf("account %s: lifecycle.max_hold_minutes must be >= 0", accountID)
	}
	return nil
}

// validateStrategyParams checks declared params against the strategy kind's
// registered JSON schema, so typos surface at load time instead of as a
// silently ignored knob.
func validateStrategyParams(kind string, params map[string]any) error {
	schema := strategy.ParamSchema(kind)
	if schema == nil || len(params) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("strategy %s schema marshal: %w", kind, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("strategy %s schema: %w", kind, err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("strategy %s schema: %w", kind, err)
	}
	if err := compiled.Validate(normalizeParams(params)); err != nil {
		return fmt.Errorf("strategy %s params: %w", kind, err)
	}
	return nil
}

// normalizeParams converts ints to float64 recursively so schema number
// checks behave like they would on decoded JSON.
func normalizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeParams(child)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}

// IntervalDuration converts either a Go duration ("30m", "4h") or an
// exchange-style interval ("1d", "1w") to a time.Duration.
func IntervalDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if !IsValidInterval(s) {
		return 0, fmt.Errorf("unrecognized interval %q", s)
	}
	n := 0
	for i := 0; i < len(s)-1; i++ {
		n = n*10 + int(s[i]-'0')
	}
	switch s[len(s)-1] {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unrecognized interval %q", s)
	}
}

// IsValidInterval checks exchange-style candle intervals: digits followed by
// one of m/h/d/w.
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 1
}

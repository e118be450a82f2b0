package config

import (
	"fmt"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads and validates the configuration file. Invalid configuration is
// rejected here, never silently defaulted away.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9991"
	}
	if c.Broker.Mode == "" {
		c.Broker.Mode = "paper"
	}
	if c.Broker.Timezone == "" {
		c.Broker.Timezone = "UTC"
	}
	if c.Broker.Currency == "" {
		c.Broker.Currency = "USDT"
	}
	if c.Broker.StartingBalance <= 0 {
		c.Broker.StartingBalance = 10000
	}
	if c.Market.Source == "" {
		c.Market.Source = "binance"
	}
	if c.Market.Interval == "" {
		c.Market.Interval = "1h"
	}
	if c.Market.History <= 0 {
		c.Market.History = 300
	}
	if c.Market.MaxCached <= 0 {
		c.Market.MaxCached = 500
	}
	if c.Scan.Interval == "" {
		c.Scan.Interval = c.Market.Interval
	}
	if c.Scan.Offset == "" {
		c.Scan.Offset = "10s"
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/armada.db"
	}
	if c.Circuit.FailureThreshold <= 0 {
		c.Circuit.FailureThreshold = 5
	}
}

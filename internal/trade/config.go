package trade

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the trade rules. Values are read once per operation; there
// is no live reload.
type Config struct {
	RequestTimeout time.Duration
	SweepInterval  time.Duration

	MaxDistance     float64 // 0 disables the distance gate
	AllowCrossWorld bool

	EnableMoneyTrade bool
	EnableExpTrade   bool

	MoneyTaxRate float64 // 0..1
	ExpTaxRate   float64 // 0..1

	ConfirmThreshold float64

	EnableTradeLog   bool
	LogRetentionDays int
	CleanupInterval  time.Duration
}

type fileConfig struct {
	RequestTimeoutS  int     `yaml:"request_timeout_s"`
	SweepIntervalS   int     `yaml:"sweep_interval_s"`
	MaxDistance      float64 `yaml:"max_distance"`
	AllowCrossWorld  bool    `yaml:"allow_cross_world"`
	EnableMoneyTrade *bool   `yaml:"enable_money_trade"`
	EnableExpTrade   *bool   `yaml:"enable_exp_trade"`
	TradeTax         float64 `yaml:"trade_tax"`
	ExpTaxRate       float64 `yaml:"exp_tax_rate"`
	ConfirmThreshold float64 `yaml:"confirm_threshold"`
	EnableTradeLog   *bool   `yaml:"enable_trade_log"`
	LogRetentionDays int     `yaml:"log_retention_days"`
	CleanupIntervalH int     `yaml:"cleanup_interval_h"`
}

// Load reads a hall.yaml config file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("hall.yaml: %w", err)
	}
	c := Config{
		RequestTimeout:   time.Duration(fc.RequestTimeoutS) * time.Second,
		SweepInterval:    time.Duration(fc.SweepIntervalS) * time.Second,
		MaxDistance:      fc.MaxDistance,
		AllowCrossWorld:  fc.AllowCrossWorld,
		MoneyTaxRate:     fc.TradeTax,
		ExpTaxRate:       fc.ExpTaxRate,
		ConfirmThreshold: fc.ConfirmThreshold,
		LogRetentionDays: fc.LogRetentionDays,
		CleanupInterval:  time.Duration(fc.CleanupIntervalH) * time.Hour,
	}
	c.EnableMoneyTrade = fc.EnableMoneyTrade == nil || *fc.EnableMoneyTrade
	c.EnableExpTrade = fc.EnableExpTrade == nil || *fc.EnableExpTrade
	c.EnableTradeLog = fc.EnableTradeLog == nil || *fc.EnableTradeLog
	c.ApplyDefaults()
	return c, nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	c := Config{EnableMoneyTrade: true, EnableExpTrade: true, EnableTradeLog: true}
	c.ApplyDefaults()
	return c
}

func (c *Config) ApplyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Second
	}
	if c.MaxDistance < 0 {
		c.MaxDistance = 0
	}
	if c.MoneyTaxRate < 0 || c.MoneyTaxRate > 1 {
		c.MoneyTaxRate = 0
	}
	if c.ExpTaxRate < 0 || c.ExpTaxRate > 1 {
		c.ExpTaxRate = 0
	}
	if c.ConfirmThreshold <= 0 {
		c.ConfirmThreshold = 10000
	}
	if c.LogRetentionDays <= 0 {
		c.LogRetentionDays = 30
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 24 * time.Hour
	}
}

// Package config loads the gridledger configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/etnz/gridledger"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of a ledger.
type Config struct {
	Store    StoreConfig    `json:"store" yaml:"store"`
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange"`
	Pairs    []PairConfig   `json:"pairs" yaml:"pairs"`
}

// StoreConfig locates the persisted books.
type StoreConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

// ExchangeConfig locates the exchange data used by reconciliation.
type ExchangeConfig struct {
	// TradesFile is an exchange trade dump (JSON list of trades).
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	// Balances are the asset totals to reconcile against, e.g. {BTC: "0.0123"}.
	Balances map[string]string `json:"balances,omitempty" yaml:"balances,omitempty"`
	// Attempts is the number of fetch attempts.
	Attempts int `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// PairConfig is the file form of gridledger.PairConfig. Numbers are strings to
// keep every digit.
type PairConfig struct {
	Pair         string            `json:"pair" yaml:"pair"`
	GridSpacing  string            `json:"grid_spacing" yaml:"grid_spacing"`
	Tolerance    string            `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Policy       string            `json:"policy,omitempty" yaml:"policy,omitempty"`
	FIFOFallback bool              `json:"fifo_fallback,omitempty" yaml:"fifo_fallback,omitempty"`
	FeeRates     map[string]string `json:"fee_rates,omitempty" yaml:"fee_rates,omitempty"`
	Lookback     time.Duration     `json:"lookback,omitempty" yaml:"lookback,omitempty"`
	Retention    time.Duration     `json:"retention,omitempty" yaml:"retention,omitempty"`
	Epsilon      string            `json:"epsilon,omitempty" yaml:"epsilon,omitempty"`
}

// Default returns a configuration for BTC/USDT on a 0.5% grid.
func Default() *Config {
	return &Config{
		Store: StoreConfig{DBPath: "gridledger.db"},
		Pairs: []PairConfig{{Pair: "BTC/USDT", GridSpacing: "0.005"}},
	}
}

// LoadFromFile loads a configuration file: JSON when path ends with .json,
// YAML otherwise.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := &Config{}
	if isJSON(path) {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration, as YAML unless path ends with .json.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error
	if isJSON(path) {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func isJSON(path string) bool { return strings.EqualFold(filepath.Ext(path), ".json") }

// Validate checks that every pair converts into a valid gridledger.PairConfig.
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return errors.New("pairs: at least one pair is required")
	}
	_, err := c.PairConfigs()
	if _, berr := c.Exchange.balances(); berr != nil {
		err = errors.Join(err, berr)
	}
	return err
}

// PairConfigs returns the validated pair configurations.
func (c *Config) PairConfigs() ([]gridledger.PairConfig, error) {
	var errs []error
	seen := make(map[string]bool)
	var cfgs []gridledger.PairConfig
	for i, p := range c.Pairs {
		cfg, err := p.convert()
		if err != nil {
			errs = append(errs, fmt.Errorf("pairs[%d]: %w", i, err))
			continue
		}
		if seen[cfg.Pair] {
			errs = append(errs, fmt.Errorf("pairs[%d]: pair %q is configured twice", i, cfg.Pair))
			continue
		}
		seen[cfg.Pair] = true
		cfgs = append(cfgs, cfg)
	}
	return cfgs, errors.Join(errs...)
}

// Pair returns the configuration of one pair.
func (c *Config) Pair(pair string) (gridledger.PairConfig, error) {
	for _, p := range c.Pairs {
		if strings.EqualFold(p.Pair, pair) {
			return p.convert()
		}
	}
	return gridledger.PairConfig{}, fmt.Errorf("%w: %q", gridledger.ErrUnknownPair, pair)
}

// Balances returns the configured exchange balances by asset.
func (c *Config) Balances() (map[string]decimal.Decimal, error) { return c.Exchange.balances() }

func (e ExchangeConfig) balances() (map[string]decimal.Decimal, error) {
	var errs []error
	res := make(map[string]decimal.Decimal, len(e.Balances))
	for asset, v := range e.Balances {
		d, err := decimal.NewFromString(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("exchange.balances.%s: %w", asset, err))
			continue
		}
		res[strings.ToUpper(asset)] = d
	}
	return res, errors.Join(errs...)
}

func (p PairConfig) convert() (gridledger.PairConfig, error) {
	spacing, err := decimal.NewFromString(p.GridSpacing)
	if err != nil {
		return gridledger.PairConfig{}, fmt.Errorf("pair %q: grid_spacing: %w", p.Pair, err)
	}
	cfg := gridledger.NewPairConfig(strings.ToUpper(p.Pair), spacing)
	cfg.FIFOFallback = p.FIFOFallback

	var errs []error
	if p.Tolerance != "" {
		if cfg.Tolerance, err = decimal.NewFromString(p.Tolerance); err != nil {
			errs = append(errs, fmt.Errorf("tolerance: %w", err))
		}
	}
	if p.Policy != "" {
		if cfg.Policy, err = gridledger.ParseMatchPolicy(p.Policy); err != nil {
			errs = append(errs, fmt.Errorf("policy: %w", err))
		}
	}
	for cur, v := range p.FeeRates {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("fee_rates.%s: %w", cur, err))
			continue
		}
		if cfg.FeeRates == nil {
			cfg.FeeRates = make(map[string]decimal.Decimal)
		}
		cfg.FeeRates[strings.ToUpper(cur)] = rate
	}
	if p.Lookback != 0 {
		cfg.Lookback = p.Lookback
	}
	if p.Retention != 0 {
		cfg.Retention = p.Retention
	}
	if p.Epsilon != "" {
		eps, err := gridledger.ParseQuantity(p.Epsilon)
		if err != nil {
			errs = append(errs, fmt.Errorf("epsilon: %w", err))
		}
		cfg.Epsilon = eps
	}
	if err := errors.Join(errs...); err != nil {
		return gridledger.PairConfig{}, fmt.Errorf("pair %q: %w", p.Pair, err)
	}
	if err := cfg.Validate(); err != nil {
		return gridledger.PairConfig{}, err
	}
	return cfg, nil
}

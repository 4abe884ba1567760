// Package config loads and validates the engine's configuration:
// exchange credentials, the instance's userref, the chosen strategy,
// and the grid parameters from spec.md §6.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Strategy is one of the four supported strategy variants.
type Strategy string

const (
	StrategyGridHODL Strategy = "GridHODL"
	StrategyGridSell Strategy = "GridSell"
	StrategySWING    Strategy = "SWING"
	StrategyCDCA     Strategy = "cDCA"
)

// Config is the full set of configuration inputs enumerated in spec.md §6.
type Config struct {
	APIPublicKey Secret `yaml:"api_public_key" validate:"required"`
	APISecretKey Secret `yaml:"api_secret_key" validate:"required"`
	Exchange     string `yaml:"exchange" validate:"required,oneof=Kraken"`
	Userref      int64  `yaml:"userref" validate:"min=0"`
	Strategy     string `yaml:"strategy" validate:"required,oneof=GridHODL GridSell SWING cDCA"`
	Name         string `yaml:"name" validate:"required"`

	BaseCurrency  string `yaml:"base_currency" validate:"required"`
	QuoteCurrency string `yaml:"quote_currency" validate:"required"`

	Interval        float64 `yaml:"interval" validate:"required,gt=0,lt=1"`
	AmountPerGrid   float64 `yaml:"amount_per_grid" validate:"required,gt=0"`
	MaxInvestment   float64 `yaml:"max_investment" validate:"required,gt=0"`
	NOpenBuyOrders  int     `yaml:"n_open_buy_orders" validate:"required,min=1"`
	Fee             float64 `yaml:"fee" validate:"gte=0,lt=1"`
	DryRun          bool    `yaml:"dry_run"`

	LogLevel    string `yaml:"log_level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR FATAL"`
	DBPath      string `yaml:"db_path"`
	MetricsPort int    `yaml:"metrics_port"`
}

// ValidationError names the offending field alongside a human message,
// matching the shape used across this codebase's config packages.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load reads filename as YAML, expands ${VAR}-style environment
// variables with the uniform "GRID_" prefix, and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the non-zero-safe defaults a fresh
// instance should have before YAML/env overrides are applied.
func Default() *Config {
	return &Config{
		Exchange:    "Kraken",
		LogLevel:    "INFO",
		DBPath:      "gridbot.db",
		MetricsPort: 9090,
	}
}

// Validate performs field-level checks beyond what a struct tag can
// express (cross-field and business-rule constraints).
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateCore(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateGrid(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateCore() error {
	if c.APIPublicKey == "" {
		return ValidationError{Field: "api_public_key", Message: "API public key is required"}
	}
	if c.APISecretKey == "" {
		return ValidationError{Field: "api_secret_key", Message: "API secret key is required"}
	}
	if c.Userref < 0 {
		return ValidationError{Field: "userref", Value: c.Userref, Message: "must be non-negative"}
	}

	switch Strategy(c.Strategy) {
	case StrategyGridHODL, StrategyGridSell, StrategySWING, StrategyCDCA:
	default:
		return ValidationError{Field: "strategy", Value: c.Strategy, Message: "must be one of GridHODL, GridSell, SWING, cDCA"}
	}

	if c.BaseCurrency == "" || c.QuoteCurrency == "" {
		return ValidationError{Field: "base_currency/quote_currency", Message: "both currencies are required"}
	}
	return nil
}

func (c *Config) validateGrid() error {
	if c.Interval <= 0 || c.Interval >= 1 {
		return ValidationError{Field: "interval", Value: c.Interval, Message: "must satisfy 0 < interval < 1"}
	}
	if c.AmountPerGrid <= 0 {
		return ValidationError{Field: "amount_per_grid", Value: c.AmountPerGrid, Message: "must be positive"}
	}
	if c.MaxInvestment <= 0 {
		return ValidationError{Field: "max_investment", Value: c.MaxInvestment, Message: "must be positive"}
	}
	if c.NOpenBuyOrders < 1 {
		return ValidationError{Field: "n_open_buy_orders", Value: c.NOpenBuyOrders, Message: "must be at least 1"}
	}
	if c.Fee < 0 || c.Fee >= 1 {
		return ValidationError{Field: "fee", Value: c.Fee, Message: "must satisfy 0 <= fee < 1"}
	}
	return nil
}

// Symbol returns the pair as BASE/QUOTE with a slash, e.g. "BTC/USD".
func (c *Config) Symbol() string {
	return c.BaseCurrency + "/" + c.QuoteCurrency
}

// String dumps the config as YAML with credentials redacted via Secret's
// MarshalYAML, so the config can be logged safely.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		if v, ok := os.LookupEnv("GRID_" + key); ok {
			return v
		}
		return os.Getenv(key)
	})
}

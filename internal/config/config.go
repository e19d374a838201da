// Package config loads and validates the YAML backtest configuration.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds everything one backtest run needs. Loaded from YAML, then
// selected values may be overridden through environment variables.
type Config struct {
	Data struct {
		// Events lists CSV event logs replayed in order. Files ending in
		// .gz are decompressed transparently.
		Events []string `yaml:"events"`
		// Snapshot is the bootstrap snapshot CSV. Optional when the first
		// event file begins with in-stream snapshot rows.
		Snapshot string `yaml:"snapshot"`
		// SQLite replays events from a SQLite database instead of CSV.
		// Mutually exclusive with Events.
		SQLite string `yaml:"sqlite"`
	} `yaml:"data"`

	Engine struct {
		TickSize   decimal.Decimal `yaml:"tick_size"`
		LotSize    decimal.Decimal `yaml:"lot_size"`
		MakerFee   decimal.Decimal `yaml:"maker_fee"` // negative = rebate
		TakerFee   decimal.Decimal `yaml:"taker_fee"`
		AssetType  string          `yaml:"asset_type"`  // linear | inverse
		FillPolicy string          `yaml:"fill_policy"` // touch | cross
		QueueRatio decimal.Decimal `yaml:"queue_ratio"`
		// ExpireAfterUS expires resting orders after this many
		// microseconds at the exchange; 0 disables expiry.
		ExpireAfterUS int64 `yaml:"expire_after_us"`
	} `yaml:"engine"`

	Latency struct {
		Model      string          `yaml:"model"` // constant | feed
		FeedUS     int64           `yaml:"feed_us"`
		EntryUS    int64           `yaml:"entry_us"`
		ResponseUS int64           `yaml:"response_us"`
		Multiplier decimal.Decimal `yaml:"multiplier"` // feed model only
		FloorUS    int64           `yaml:"floor_us"`
	} `yaml:"latency"`

	Strategy struct {
		Name        string          `yaml:"name"`
		HalfSpread  decimal.Decimal `yaml:"half_spread"`
		OrderQty    decimal.Decimal `yaml:"order_qty"`
		MaxPosition decimal.Decimal `yaml:"max_position"`
		Skew        decimal.Decimal `yaml:"skew"`
		IntervalUS  int64           `yaml:"interval_us"`
	} `yaml:"strategy"`

	Recorder struct {
		// Path of the run-recorder SQLite database; empty disables
		// recording.
		Path string `yaml:"path"`
	} `yaml:"recorder"`

	Logging struct {
		Level string `yaml:"level"` // debug | info | warn | error
	} `yaml:"logging"`
}

// Load reads, env-overrides and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if len(c.Data.Events) == 0 && c.Data.SQLite == "" {
		return fmt.Errorf("either data.events or data.sqlite is required")
	}
	if len(c.Data.Events) > 0 && c.Data.SQLite != "" {
		return fmt.Errorf("data.events and data.sqlite are mutually exclusive")
	}

	if c.Engine.TickSize.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("engine.tick_size must be positive, got %s", c.Engine.TickSize)
	}
	if c.Engine.LotSize.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("engine.lot_size must be positive, got %s", c.Engine.LotSize)
	}
	switch c.Engine.AssetType {
	case "linear", "inverse":
	default:
		return fmt.Errorf("engine.asset_type must be linear or inverse, got %q", c.Engine.AssetType)
	}
	switch c.Engine.FillPolicy {
	case "touch":
		if c.Engine.QueueRatio.LessThanOrEqual(decimal.Zero) ||
			c.Engine.QueueRatio.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("engine.queue_ratio must be in (0,1], got %s", c.Engine.QueueRatio)
		}
	case "cross":
	default:
		return fmt.Errorf("engine.fill_policy must be touch or cross, got %q", c.Engine.FillPolicy)
	}
	if c.Engine.ExpireAfterUS < 0 {
		return fmt.Errorf("engine.expire_after_us must be non-negative, got %d", c.Engine.ExpireAfterUS)
	}

	switch c.Latency.Model {
	case "constant":
		if c.Latency.FeedUS < 0 || c.Latency.EntryUS < 0 || c.Latency.ResponseUS < 0 {
			return fmt.Errorf("latency values must be non-negative")
		}
	case "feed":
		if c.Latency.Multiplier.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("latency.multiplier must be positive, got %s", c.Latency.Multiplier)
		}
		if c.Latency.FloorUS < 0 {
			return fmt.Errorf("latency.floor_us must be non-negative, got %d", c.Latency.FloorUS)
		}
	default:
		return fmt.Errorf("latency.model must be constant or feed, got %q", c.Latency.Model)
	}

	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if c.Strategy.HalfSpread.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("strategy.half_spread must be positive, got %s", c.Strategy.HalfSpread)
	}
	if c.Strategy.OrderQty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("strategy.order_qty must be positive, got %s", c.Strategy.OrderQty)
	}
	if c.Strategy.MaxPosition.LessThan(decimal.Zero) {
		return fmt.Errorf("strategy.max_position must be non-negative, got %s", c.Strategy.MaxPosition)
	}
	if c.Strategy.IntervalUS <= 0 {
		return fmt.Errorf("strategy.interval_us must be positive, got %d", c.Strategy.IntervalUS)
	}
	return nil
}

// overrideWithEnv overrides settings from environment variables when set.
func overrideWithEnv(cfg *Config) {
	if level := os.Getenv("HFTBT_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if path := os.Getenv("HFTBT_RECORDER_PATH"); path != "" {
		cfg.Recorder.Path = path
	}
}

// Package config loads the runtime configuration of the matching core from a
// YAML file, a .env file and CIX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	match "github.com/0x5487/matching-core"
	"github.com/0x5487/matching-core/protocol"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CIX_MARKET_THREADS.
const EnvPrefix = "CIX"

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Market    MarketConfig    `mapstructure:"market"`
	Book      BookConfig      `mapstructure:"book"`
	IDs       IDConfig        `mapstructure:"ids"`
	TradeLog  TradeLogConfig  `mapstructure:"tradelog"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type MarketConfig struct {
	Threads        int      `mapstructure:"threads" validate:"min=1,max=256"`
	Symbols        []string `mapstructure:"symbols" validate:"min=1,unique,dive,min=1,max=7"`
	QueueCapacity  uint64   `mapstructure:"queue_capacity" validate:"required"`
	OutboxCapacity uint64   `mapstructure:"outbox_capacity" validate:"required"`
	SubmitRetries  int      `mapstructure:"submit_retries" validate:"min=0"`
	WaitStrategy   string   `mapstructure:"wait_strategy" validate:"oneof=spin park"`
}

type BookConfig struct {
	InitialCapacity int `mapstructure:"initial_capacity" validate:"min=1"`
	// SizeHints overrides InitialCapacity per symbol. Keys are matched
	// case-insensitively since viper lowercases them.
	SizeHints        map[string]int `mapstructure:"size_hints" validate:"dive,min=1"`
	MaxRestingOrders int            `mapstructure:"max_resting_orders" validate:"min=0"`
}

type IDConfig struct {
	Interval uint64 `mapstructure:"interval" validate:"min=1"`
}

type TradeLogConfig struct {
	Path           string        `mapstructure:"path" validate:"required"`
	RecordCapacity uint64        `mapstructure:"record_capacity" validate:"min=1"`
	SyncInterval   time.Duration `mapstructure:"sync_interval" validate:"min=0"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" validate:"min=0"`
}

// ReconcileConfig enables the anomaly store when Path is set.
type ReconcileConfig struct {
	Path string `mapstructure:"path"`
}

type FeedConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic    string   `mapstructure:"topic" validate:"required_if=Enabled true"`
	Capacity uint64   `mapstructure:"capacity" validate:"required"`
	MaxBatch int      `mapstructure:"max_batch" validate:"min=1"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Production bool   `mapstructure:"production"`
}

type MetricsConfig struct {
	// Addr is where /metrics is served; empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Market: MarketConfig{
			Threads:        1,
			Symbols:        []string{},
			QueueCapacity:  1 << 12,
			OutboxCapacity: match.DefaultOutboxCapacity,
			SubmitRetries:  64,
			WaitStrategy:   "spin",
		},
		Book: BookConfig{
			InitialCapacity: match.DefaultBookCapacity,
			SizeHints:       map[string]int{},
		},
		IDs: IDConfig{
			Interval: match.DefaultIDInterval,
		},
		TradeLog: TradeLogConfig{
			Path:           "data/tradelog",
			RecordCapacity: 1 << 20,
			RetryDelay:     100 * time.Millisecond,
		},
		Feed: FeedConfig{
			Topic:    "executions",
			Capacity: 1 << 14,
			MaxBatch: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("market.threads", d.Market.Threads)
	v.SetDefault("market.symbols", d.Market.Symbols)
	v.SetDefault("market.queue_capacity", d.Market.QueueCapacity)
	v.SetDefault("market.outbox_capacity", d.Market.OutboxCapacity)
	v.SetDefault("market.submit_retries", d.Market.SubmitRetries)
	v.SetDefault("market.wait_strategy", d.Market.WaitStrategy)

	v.SetDefault("book.initial_capacity", d.Book.InitialCapacity)
	v.SetDefault("book.size_hints", d.Book.SizeHints)
	v.SetDefault("book.max_resting_orders", d.Book.MaxRestingOrders)

	v.SetDefault("ids.interval", d.IDs.Interval)

	v.SetDefault("tradelog.path", d.TradeLog.Path)
	v.SetDefault("tradelog.record_capacity", d.TradeLog.RecordCapacity)
	v.SetDefault("tradelog.sync_interval", d.TradeLog.SyncInterval)
	v.SetDefault("tradelog.retry_delay", d.TradeLog.RetryDelay)

	v.SetDefault("reconcile.path", d.Reconcile.Path)

	v.SetDefault("feed.enabled", d.Feed.Enabled)
	v.SetDefault("feed.brokers", d.Feed.Brokers)
	v.SetDefault("feed.topic", d.Feed.Topic)
	v.SetDefault("feed.capacity", d.Feed.Capacity)
	v.SetDefault("feed.max_batch", d.Feed.MaxBatch)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.production", d.Log.Production)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Load reads path (optional), then applies .env and CIX_* overrides on top
// of Default, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the power-of-two queue sizes.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for name, n := range map[string]uint64{
		"market.queue_capacity":  c.Market.QueueCapacity,
		"market.outbox_capacity": c.Market.OutboxCapacity,
		"feed.capacity":          c.Feed.Capacity,
	} {
		if n&(n-1) != 0 {
			return fmt.Errorf("%w: %s %d is not a power of two", ErrInvalidConfig, name, n)
		}
	}

	for _, s := range c.Market.Symbols {
		if _, err := protocol.NewSymbol(s); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// MarketConfig converts the market related sections.
func (c *Config) MarketConfig() (match.MarketConfig, error) {
	symbols := make([]protocol.Symbol, 0, len(c.Market.Symbols))
	for _, s := range c.Market.Symbols {
		sym, err := protocol.NewSymbol(s)
		if err != nil {
			return match.MarketConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		symbols = append(symbols, sym)
	}

	hints := make(map[protocol.Symbol]int, len(c.Book.SizeHints))
	for s, n := range c.Book.SizeHints {
		sym, err := protocol.NewSymbol(strings.ToUpper(s))
		if err != nil {
			return match.MarketConfig{}, fmt.Errorf("%w: size hint: %w", ErrInvalidConfig, err)
		}
		hints[sym] = n
	}

	return match.MarketConfig{
		Symbols:          symbols,
		Threads:          c.Market.Threads,
		QueueCapacity:    c.Market.QueueCapacity,
		OutboxCapacity:   c.Market.OutboxCapacity,
		SubmitRetries:    c.Market.SubmitRetries,
		WaitStrategy:     c.Market.WaitStrategy,
		TradeLogPath:     c.TradeLog.Path,
		TradeLogCapacity: c.TradeLog.RecordCapacity,
		SyncInterval:     c.TradeLog.SyncInterval,
		RetryDelay:       c.TradeLog.RetryDelay,
		BookCapacity:     c.Book.InitialCapacity,
		SizeHints:        hints,
		MaxRestingOrders: c.Book.MaxRestingOrders,
		IDInterval:       c.IDs.Interval,
	}, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the validated configuration snapshot. It is never mutated in
// place; reconfiguration replaces the whole value.
type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Markets   MarketsConfig   `yaml:"markets"`
	Cache     CacheConfig     `yaml:"cache"`
	Orders    OrdersConfig    `yaml:"orders"`
	History   HistoryConfig   `yaml:"history"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type GatewayConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	CredentialFile   string        `yaml:"credential_file"`
	PaperTrading     bool          `yaml:"paper_trading"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	KeepAlive        time.Duration `yaml:"keep_alive"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	MaxReconnects    int           `yaml:"max_reconnects"`
	ReplayBatchSize  int           `yaml:"replay_batch_size"`
}

type MarketsConfig struct {
	HK bool `yaml:"hk"`
	US bool `yaml:"us"`
	CN bool `yaml:"cn"`
}

// Enabled returns the market codes flagged for trading, in a fixed order so
// connect and replay behave deterministically.
func (m MarketsConfig) Enabled() []string {
	var out []string
	if m.HK {
		out = append(out, "HK")
	}
	if m.US {
		out = append(out, "US")
	}
	if m.CN {
		out = append(out, "CN")
	}
	return out
}

type CacheConfig struct {
	ContractTTL     time.Duration `yaml:"contract_ttl"`
	ContractMaxSize int           `yaml:"contract_max_size"`
	BarTTL          time.Duration `yaml:"bar_ttl"`
	BarMaxSize      int           `yaml:"bar_max_size"`
}

type OrdersConfig struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

type HistoryConfig struct {
	MinRequestGap time.Duration `yaml:"min_request_gap"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type TimescaleConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	Schema  string `yaml:"schema"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 11111
	}
	if cfg.Gateway.ConnectTimeout == 0 {
		cfg.Gateway.ConnectTimeout = 10 * time.Second
	}
	if cfg.Gateway.KeepAlive == 0 {
		cfg.Gateway.KeepAlive = 15 * time.Second
	}
	if cfg.Gateway.ProbeInterval == 0 {
		cfg.Gateway.ProbeInterval = 30 * time.Second
	}
	if cfg.Gateway.ReconnectBackoff == 0 {
		cfg.Gateway.ReconnectBackoff = 5 * time.Second
	}
	if cfg.Gateway.MaxReconnects == 0 {
		cfg.Gateway.MaxReconnects = 10
	}
	if cfg.Gateway.ReplayBatchSize == 0 {
		cfg.Gateway.ReplayBatchSize = 50
	}
	if cfg.Cache.ContractTTL == 0 {
		cfg.Cache.ContractTTL = time.Hour
	}
	if cfg.Cache.ContractMaxSize == 0 {
		cfg.Cache.ContractMaxSize = 10000
	}
	if cfg.Cache.BarTTL == 0 {
		cfg.Cache.BarTTL = 5 * time.Minute
	}
	if cfg.Cache.BarMaxSize == 0 {
		cfg.Cache.BarMaxSize = 1000
	}
	if cfg.Orders.RateLimitPerMinute == 0 {
		cfg.Orders.RateLimitPerMinute = 60
	}
	if cfg.History.MinRequestGap == 0 {
		cfg.History.MinRequestGap = 100 * time.Millisecond
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/futu-bridge.db"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9310"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
}

func validate(cfg *Config) error {
	if cfg.Gateway.Port < 1 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.CredentialFile == "" {
		return errors.New("gateway.credential_file is required")
	}
	if cfg.Gateway.MaxReconnects < 1 {
		return errors.New("gateway.max_reconnects must be >= 1")
	}
	if len(cfg.Markets.Enabled()) == 0 {
		return errors.New("at least one market must be enabled")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"trade-alert-engine/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Outcome  OutcomeConfig  `mapstructure:"outcome"`
	Market   MarketConfig   `mapstructure:"market"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the rule/event store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// EngineConfig governs the rule sweep.
type EngineConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	RuleTimeout     time.Duration `mapstructure:"rule_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	TickBudget      time.Duration `mapstructure:"tick_budget"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	WindowSize      int           `mapstructure:"window_size"`
	Warmup          bool          `mapstructure:"warmup"`
}

// OutcomeConfig governs the outcome evaluator.
type OutcomeConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	MinAge         time.Duration `mapstructure:"min_age"`
	NoiseThreshold float64       `mapstructure:"noise_threshold"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// MarketConfig selects the market data source.
type MarketConfig struct {
	Source    string          `mapstructure:"source"`
	Binance   BinanceConfig   `mapstructure:"binance"`
	Chainlink ChainlinkConfig `mapstructure:"chainlink"`
}

// BinanceConfig covers the klines REST endpoint.
type BinanceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ChainlinkConfig maps symbols onto on-chain aggregator feeds.
type ChainlinkConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// PublishConfig routes fired alerts to real-time channels.
type PublishConfig struct {
	ChannelPrefix string         `mapstructure:"channel_prefix"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	Redis         RedisConfig    `mapstructure:"redis"`
	Kafka         KafkaConfig    `mapstructure:"kafka"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// RedisConfig describes the pub/sub connection.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig describes the event stream producer.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// TelegramConfig mirrors fired alerts into an operator chat.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ALERTENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "alertengine")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "alertengine.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("engine.interval", "5s")
	v.SetDefault("engine.rule_timeout", "3s")
	v.SetDefault("engine.write_timeout", "5s")
	v.SetDefault("engine.tick_budget", "30s")
	v.SetDefault("engine.startup_delay", "0s")
	v.SetDefault("engine.advisory_lock_key", int64(0))
	v.SetDefault("engine.window_size", 30)
	v.SetDefault("engine.warmup", false)

	v.SetDefault("outcome.interval", "60s")
	v.SetDefault("outcome.batch_size", 20)
	v.SetDefault("outcome.min_age", "2m")
	v.SetDefault("outcome.noise_threshold", 0.001)
	v.SetDefault("outcome.timeout", "5s")

	v.SetDefault("market.source", "demo")
	v.SetDefault("market.binance.base_url", "https://api.binance.com")
	v.SetDefault("market.binance.request_timeout", "5s")
	v.SetDefault("market.chainlink.request_timeout", "10s")

	v.SetDefault("publish.channel_prefix", "alerts:user:")
	v.SetDefault("publish.timeout", "2s")
	v.SetDefault("publish.redis.enabled", false)
	v.SetDefault("publish.redis.addr", "localhost:6379")
	v.SetDefault("publish.kafka.enabled", false)
	v.SetDefault("publish.kafka.topic", "alert-events")
	v.SetDefault("publish.kafka.write_timeout", "5s")
	v.SetDefault("publish.telegram.enabled", false)
	v.SetDefault("publish.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("export.max_data_points", 5000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be one of memory, sqlite, postgres (got %q)", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres driver")
	}
	if c.Database.Driver == "sqlite" && c.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
	}
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be greater than zero")
	}
	if c.Engine.RuleTimeout <= 0 {
		return fmt.Errorf("engine.rule_timeout must be greater than zero")
	}
	if c.Engine.WriteTimeout <= 0 {
		return fmt.Errorf("engine.write_timeout must be greater than zero")
	}
	if c.Engine.WindowSize < 2 {
		return fmt.Errorf("engine.window_size must be at least 2")
	}
	if c.Outcome.Interval <= 0 {
		return fmt.Errorf("outcome.interval must be greater than zero")
	}
	if c.Outcome.BatchSize <= 0 {
		return fmt.Errorf("outcome.batch_size must be greater than zero")
	}
	if c.Outcome.NoiseThreshold < 0 {
		return fmt.Errorf("outcome.noise_threshold cannot be negative")
	}
	switch c.Market.Source {
	case "demo", "binance":
	case "chainlink":
		if c.Market.Chainlink.RPCURL == "" {
			return fmt.Errorf("market.chainlink.rpc_url is required for the chainlink source")
		}
		if len(c.Market.Chainlink.Feeds) == 0 {
			return fmt.Errorf("market.chainlink.feeds must map at least one symbol")
		}
	default:
		return fmt.Errorf("market.source must be one of demo, binance, chainlink (got %q)", c.Market.Source)
	}
	if c.Publish.Redis.Enabled && c.Publish.Redis.Addr == "" {
		return fmt.Errorf("publish.redis.addr is required when redis publishing is enabled")
	}
	if c.Publish.Kafka.Enabled {
		if len(c.Publish.Kafka.Brokers) == 0 {
			return fmt.Errorf("publish.kafka.brokers is required when kafka publishing is enabled")
		}
		if c.Publish.Kafka.Topic == "" {
			return fmt.Errorf("publish.kafka.topic is required when kafka publishing is enabled")
		}
	}
	if c.Publish.Telegram.Enabled {
		if c.Publish.Telegram.BotToken == "" {
			return fmt.Errorf("publish.telegram.bot_token is required when telegram is enabled")
		}
		if c.Publish.Telegram.ChatID == "" {
			return fmt.Errorf("publish.telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

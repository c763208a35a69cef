package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"FxGuard/pkg/util"
)

// SourceConfig configures one REST market-data adapter.
type SourceConfig struct {
	Enabled  bool          `yaml:"enabled" default:"true"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout" default:"10s"`
	Priority int           `yaml:"priority"`
	// DailyLimit spreads the provider's daily quota evenly; 0 disables throttling.
	DailyLimit int `yaml:"daily_limit" validate:"gte=0"`
	Burst      int `yaml:"burst" default:"5" validate:"gte=1"`
}

// RangeConfig is an inclusive price band.
type RangeConfig struct {
	Min float64 `yaml:"min" validate:"gt=0"`
	Max float64 `yaml:"max" validate:"gtfield=Min"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"45s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Log struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Collector  struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Validation struct {
		MinSources           int           `yaml:"min_sources" default:"3" validate:"gte=1"`
		MaxVariance          float64       `yaml:"max_variance" default:"0.008" validate:"gt=0,lt=1"`
		BatchTimeout         time.Duration `yaml:"batch_timeout" default:"30s"`
		MaxConcurrency       int           `yaml:"max_concurrency" default:"8" validate:"gte=1"`
		Precision            int           `yaml:"precision" default:"5" validate:"gte=1,lte=10"`
		RejectUnboundedPairs bool          `yaml:"reject_unbounded_pairs"`
	} `yaml:"validation"`
	Pairs []string `yaml:"pairs" default:"[\"EURUSD\",\"GBPUSD\",\"USDJPY\",\"USDCHF\",\"USDCAD\",\"AUDUSD\",\"NZDUSD\",\"EURJPY\",\"GBPJPY\",\"CHFJPY\"]" validate:"min=1,dive,len=6"`
	Cache struct {
		Backend         string        `yaml:"backend" default:"sqlite" validate:"oneof=sqlite redis"`
		TTL             time.Duration `yaml:"ttl" default:"300s"`
		Path            string        `yaml:"path" default:"data/cache/fxguard.db"`
		MemoryMaxSize   int           `yaml:"memory_max_size" default:"1000" validate:"gte=1"`
		CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1m"`
		PurgeInterval   time.Duration `yaml:"purge_interval" default:"10m"`
		Redis           struct {
			Addr     string `yaml:"addr" default:"localhost:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size" default:"10"`
			Prefix   string `yaml:"prefix" default:"fxguard"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Sources struct {
		UserAgent        string       `yaml:"user_agent" default:"FxGuard/1.0"`
		ExchangeRate     SourceConfig `yaml:"exchangerate"`
		Fixer            SourceConfig `yaml:"fixer"`
		CurrencyAPI      SourceConfig `yaml:"currencyapi"`
		FreeCurrency     SourceConfig `yaml:"freecurrency"`
		ExchangeRatesAPI SourceConfig `yaml:"exchangeratesapi"`
		AlphaVantage     SourceConfig `yaml:"alphavantage"`
		TwelveData       SourceConfig `yaml:"twelvedata"`
		Yahoo            SourceConfig `yaml:"yahoo"`
	} `yaml:"sources"`
	Finnhub struct {
		Enabled        bool          `yaml:"enabled"`
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		MaxTickAge     time.Duration `yaml:"max_tick_age" default:"60s"`
	} `yaml:"finnhub"`
	Bounds struct {
		Tolerance float64                `yaml:"tolerance" default:"0.001" validate:"gt=0"`
		Ranges    map[string]RangeConfig `yaml:"ranges" validate:"dive"`
		Banned    map[string][]float64   `yaml:"banned"`
	} `yaml:"bounds"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Topics       struct {
			ValidatedPrices string `yaml:"validated_prices" default:"fx.prices.validated"`
			RawSignals      string `yaml:"raw_signals" default:"fx.signals.raw"`
			CleanSignals    string `yaml:"clean_signals" default:"fx.signals.clean"`
			Rejections      string `yaml:"rejections" default:"fx.signals.rejected"`
			Logs            string `yaml:"logs" default:"fx.logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"fxguard-enforcer"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"fx.signals.dlq"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"fxguard"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert" default:"true"`
		WaitForAsync bool          `yaml:"wait_for_async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecTime  time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Schedule struct {
		Enabled    bool     `yaml:"enabled" default:"true"`
		Specs      []string `yaml:"specs" default:"[\"0 6 * * *\"]"`
		RunOnStart bool     `yaml:"run_on_start"`
		Timezone   string   `yaml:"timezone" default:"UTC"`
	} `yaml:"schedule"`
}

var validate = validator.New()

// Default returns a config with every default applied and no file read.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	// Free-tier quotas and preference order of each provider.
	s := &c.Sources
	s.Yahoo.Priority = 1
	s.AlphaVantage.Priority, s.AlphaVantage.DailyLimit = 2, 25
	s.TwelveData.Priority, s.TwelveData.DailyLimit = 2, 800
	s.ExchangeRate.Priority, s.ExchangeRate.DailyLimit = 3, 1500
	s.FreeCurrency.Priority, s.FreeCurrency.DailyLimit = 3, 5000
	s.CurrencyAPI.Priority, s.CurrencyAPI.DailyLimit = 3, 300
	s.Fixer.Priority, s.Fixer.DailyLimit = 4, 100
	s.ExchangeRatesAPI.Priority, s.ExchangeRatesAPI.DailyLimit = 4, 250

	return &c, nil
}

// Load reads and parses a YAML configuration file. Defaults are applied before
// decoding so explicit false/zero values in the file win.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env files (missing ones are ignored), then the YAML file, then
// applies environment overrides. API keys are normally supplied this way.
func LoadWithEnv(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	keys := map[string]*string{
		"EXCHANGERATE_API_KEY":  &c.Sources.ExchangeRate.APIKey,
		"FIXER_API_KEY":         &c.Sources.Fixer.APIKey,
		"CURRENCYAPI_KEY":       &c.Sources.CurrencyAPI.APIKey,
		"FREECURRENCY_API_KEY":  &c.Sources.FreeCurrency.APIKey,
		"EXCHANGERATES_API_KEY": &c.Sources.ExchangeRatesAPI.APIKey,
		"ALPHA_VANTAGE_KEY":     &c.Sources.AlphaVantage.APIKey,
		"TWELVE_DATA_KEY":       &c.Sources.TwelveData.APIKey,
		"FINNHUB_API_KEY":       &c.Finnhub.APIKey,
		"REDIS_ADDR":            &c.Cache.Redis.Addr,
		"REDIS_PASSWORD":        &c.Cache.Redis.Password,
		"CACHE_BACKEND":         &c.Cache.Backend,
		"CLICKHOUSE_HOST":       &c.ClickHouse.Host,
		"CLICKHOUSE_PASSWORD":   &c.ClickHouse.Password,
		"LOG_LEVEL":             &c.Log.Level,
		"ENVIRONMENT":           &c.Environment,
	}
	for env, dst := range keys {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("PAIRS"); v != "" {
		c.Pairs = util.SplitList(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if c.Finnhub.APIKey != "" && os.Getenv("FINNHUB_STREAM") == "true" {
		c.Finnhub.Enabled = true
	}
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Validation.BatchTimeout <= 0 {
		return fmt.Errorf("validation.batch_timeout must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Finnhub.Enabled && c.Finnhub.APIKey == "" {
		return fmt.Errorf("finnhub.api_key is required when the stream is enabled")
	}
	if c.Schedule.Enabled && len(c.Schedule.Specs) == 0 {
		return fmt.Errorf("schedule.specs cannot be empty when the scheduler is enabled")
	}
	for pair, banned := range c.Bounds.Banned {
		if len(pair) != 6 {
			return fmt.Errorf("bounds.banned: invalid pair %q", pair)
		}
		for _, p := range banned {
			if p <= 0 {
				return fmt.Errorf("bounds.banned[%s]: price must be positive, got %v", pair, p)
			}
		}
	}
	for pair := range c.Bounds.Ranges {
		if len(pair) != 6 {
			return fmt.Errorf("bounds.ranges: invalid pair %q", pair)
		}
	}
	return nil
}

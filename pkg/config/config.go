package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"QuantPipe/pkg/util"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Log         struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
		// Collect aggregates logs at CollectLevel and above and publishes
		// them to the logs topic.
		Collect       bool          `yaml:"collect"`
		CollectLevel  string        `yaml:"collect_level"`
		FlushInterval time.Duration `yaml:"flush_interval"`
		FlushCount    int           `yaml:"flush_count"`
	} `yaml:"log"`
	Server struct {
		Enabled         bool          `yaml:"enabled"`
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Storage struct {
		Driver string `yaml:"driver"` // postgres or memory
	} `yaml:"storage"`
	Postgres struct {
		URL             string        `yaml:"url"`
		MaxConns        int32         `yaml:"max_conns"`
		MinConns        int32         `yaml:"min_conns"`
		MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
		MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
		ConnectTimeout  time.Duration `yaml:"connect_timeout"`
		Migrate         bool          `yaml:"migrate"`
	} `yaml:"postgres"`
	Polygon struct {
		APIKey            string        `yaml:"api_key"`
		BaseURL           string        `yaml:"base_url"`
		RequestsPerMinute float64       `yaml:"requests_per_minute"`
		MaxRetries        int           `yaml:"max_retries"`
		BackoffBase       time.Duration `yaml:"backoff_base"`
		BackoffMax        time.Duration `yaml:"backoff_max"`
		Timeout           time.Duration `yaml:"timeout"`
	} `yaml:"polygon"`
	Universe struct {
		Symbols      []string          `yaml:"symbols"`
		Sectors      map[string]string `yaml:"sectors"`
		BackfillDays int               `yaml:"backfill_days"`
	} `yaml:"universe"`
	Pipeline struct {
		Schedule        string        `yaml:"schedule"`
		Timezone        string        `yaml:"timezone"`
		ScheduleEnabled bool          `yaml:"schedule_enabled"`
		MaxAttempts     int           `yaml:"max_attempts"`
		BackoffBase     time.Duration `yaml:"backoff_base"`
		BackoffMax      time.Duration `yaml:"backoff_max"`
		LockTTL         time.Duration `yaml:"lock_ttl"`
		Workers         int           `yaml:"workers"`
		FeatureSet      string        `yaml:"feature_set"`
		LookbackDays    int           `yaml:"lookback_days"`
		EmitHold        bool          `yaml:"emit_hold"`
		MinSuccessRate  float64       `yaml:"min_success_rate"`
	} `yaml:"pipeline"`
	Quality struct {
		MinCompleteness  float64 `yaml:"min_completeness"`
		MaxStalenessDays int     `yaml:"max_staleness_days"`
	} `yaml:"quality"`
	Performance struct {
		WindowDays        int     `yaml:"window_days"`
		HoldingDays       int     `yaml:"holding_days"`
		MinSignals        int     `yaml:"min_signals"`
		UnderperformBelow float64 `yaml:"underperform_below"`
	} `yaml:"performance"`
	// Models registers extra models next to the built-in presets.
	Models []ModelConfig `yaml:"models"`
	Kafka  struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Topics       struct {
			Signals string `yaml:"signals"`
			Reports string `yaml:"reports"`
			Events  string `yaml:"events"`
			Logs    string `yaml:"logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled        bool          `yaml:"enabled"`
		Addr           string        `yaml:"addr"`
		Password       string        `yaml:"password"`
		DB             int           `yaml:"db"`
		Prefix         string        `yaml:"prefix"`
		ReportCacheTTL time.Duration `yaml:"report_cache_ttl"`
	} `yaml:"redis"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers"`
		RetryLimit int           `yaml:"retry_limit"`
		RetryDelay time.Duration `yaml:"retry_delay"`
		JobTimeout time.Duration `yaml:"job_timeout"`
	} `yaml:"queue"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
}

// ModelConfig declares one model in YAML.
type ModelConfig struct {
	Name       string             `yaml:"name"`
	Version    string             `yaml:"version"`
	Type       string             `yaml:"type"`
	Parameters map[string]float64 `yaml:"parameters"`
	Active     *bool              `yaml:"active"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML on top of Defaults.
func Parse(b []byte) (*Config, error) {
	c := Defaults()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Defaults returns a configuration that runs against the in-memory store
// with every external system disabled.
func Defaults() *Config {
	c := &Config{Environment: "development"}
	c.Log.Level = "info"
	c.Log.Format = "console"
	c.Log.Output = "stdout"
	c.Log.FlushInterval = 30 * time.Second
	c.Log.FlushCount = 100
	c.Log.CollectLevel = "error"
	c.Server.Enabled = true
	c.Server.Port = 8080
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 10 * time.Second
	c.Server.ShutdownTimeout = 15 * time.Second
	c.Storage.Driver = "memory"
	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 2
	c.Postgres.ConnectTimeout = 10 * time.Second
	c.Postgres.Migrate = true
	c.Polygon.RequestsPerMinute = 5
	c.Polygon.MaxRetries = 3
	c.Polygon.BackoffBase = time.Second
	c.Polygon.BackoffMax = 30 * time.Second
	c.Polygon.Timeout = 30 * time.Second
	c.Universe.BackfillDays = 365
	c.Pipeline.Schedule = "0 0 18 * * 1-5"
	c.Pipeline.Timezone = "America/New_York"
	c.Pipeline.ScheduleEnabled = true
	c.Pipeline.MaxAttempts = 3
	c.Pipeline.BackoffBase = 2 * time.Second
	c.Pipeline.BackoffMax = time.Minute
	c.Pipeline.LockTTL = 2 * time.Hour
	c.Pipeline.Workers = 4
	c.Pipeline.FeatureSet = "technical_v1"
	c.Pipeline.LookbackDays = 120
	c.Pipeline.MinSuccessRate = 0.8
	c.Quality.MinCompleteness = 0.8
	c.Quality.MaxStalenessDays = 1
	c.Performance.WindowDays = 30
	c.Performance.HoldingDays = 5
	c.Performance.MinSignals = 10
	c.Performance.UnderperformBelow = -0.02
	c.Kafka.RequiredAcks = -1
	c.Kafka.Compression = "snappy"
	c.Kafka.Topics.Signals = "signals"
	c.Kafka.Topics.Reports = "reports"
	c.Kafka.Topics.Events = "pipeline-events"
	c.Kafka.Topics.Logs = "logs"
	c.Kafka.Producer.MaxAttempts = 5
	c.Kafka.Producer.Linger = 50 * time.Millisecond
	c.Kafka.Producer.BatchSize = 100
	c.Kafka.Producer.BatchBytes = 1 << 20
	c.Kafka.Producer.WriteTimeout = 10 * time.Second
	c.Kafka.Producer.ReadTimeout = 10 * time.Second
	c.Kafka.Consumer.Enabled = true
	c.Kafka.Consumer.GroupID = "quantpipe-alerts"
	c.Kafka.Consumer.Workers = 2
	c.Kafka.Consumer.BufferSize = 100
	c.Kafka.Consumer.RetryMax = 3
	c.Kafka.Consumer.BackoffMin = 100 * time.Millisecond
	c.Kafka.Consumer.BackoffMax = 5 * time.Second
	c.Kafka.Consumer.DLQTopic = "pipeline-events-dlq"
	c.Kafka.Consumer.MinBytes = 1
	c.Kafka.Consumer.MaxBytes = 10 << 20
	c.Redis.Addr = "localhost:6379"
	c.Redis.Prefix = "quantpipe"
	c.Redis.ReportCacheTTL = 5 * time.Minute
	c.Queue.Workers = 1
	c.Queue.RetryLimit = 2
	c.Queue.RetryDelay = 5 * time.Minute
	c.Queue.JobTimeout = 2 * time.Hour
	c.ClickHouse.Port = 9000
	c.ClickHouse.Database = "quantpipe"
	c.ClickHouse.User = "default"
	c.ClickHouse.DialTimeout = 5 * time.Second
	c.ClickHouse.ReadTimeout = 30 * time.Second
	c.ClickHouse.WriteTimeout = 30 * time.Second
	return c
}

// LoadWithEnv loads .env files, then YAML, then applies environment
// overrides and validates the result.
func LoadWithEnv(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// a missing .env is normal outside local development
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("POLYGON_API_KEY"); ok {
		c.Polygon.APIKey = v
	}
	if v, ok := get("DATABASE_URL"); ok {
		c.Postgres.URL = v
		c.Storage.Driver = "postgres"
	}
	if v, ok := get("SYMBOLS"); ok {
		c.Universe.Symbols = util.SplitCSV(v)
	}
	if v, ok := get("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = util.SplitCSV(v)
		c.Kafka.Enabled = true
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v, ok := get("PIPELINE_SCHEDULE"); ok {
		c.Pipeline.Schedule = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("SERVER_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Postgres.URL == "" {
			return fmt.Errorf("postgres.url is required when storage.driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be 'postgres' or 'memory', got '%s'", c.Storage.Driver)
	}
	if len(c.Universe.Symbols) == 0 {
		return fmt.Errorf("universe.symbols cannot be empty")
	}
	if c.Polygon.APIKey == "" {
		return fmt.Errorf("polygon.api_key is required")
	}
	if _, err := c.MarketLocation(); err != nil {
		return err
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be >= 1")
	}
	if c.Quality.MinCompleteness < 0 || c.Quality.MinCompleteness > 1 {
		return fmt.Errorf("quality.min_completeness must be within [0, 1]")
	}
	if c.Performance.HoldingDays < 1 {
		return fmt.Errorf("performance.holding_days must be >= 1")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires redis.enabled")
	}
	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("models[%d].name is required", i)
		}
	}
	return nil
}

// MarketLocation is the exchange time zone logical dates are taken in.
func (c *Config) MarketLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return nil, fmt.Errorf("pipeline.timezone %q: %w", c.Pipeline.Timezone, err)
	}
	return loc, nil
}

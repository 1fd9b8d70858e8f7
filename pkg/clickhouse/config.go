package clickhouse

import (
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type ClientOption func(*ClientConfig)

// ClientConfig describes one ClickHouse server and the pool in front of it.
type ClientConfig struct {
	Host     string
	Port     int // 0 picks 9000 for native, 8123 for HTTP
	Database string
	User     string
	Password string
	HTTP     bool
	LZ4      bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	DialTimeout time.Duration
	ReadTimeout time.Duration
	// WriteTimeout bounds each insert statement. The driver has no write
	// deadline of its own.
	WriteTimeout time.Duration

	// server settings sent with every query
	MaxExecTime  time.Duration
	AsyncInsert  bool
	WaitForAsync bool
}

func defaultConfig() *ClientConfig {
	return &ClientConfig{
		Database:        "default",
		User:            "default",
		LZ4:             true,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
	}
}

// options translates the config into driver options.
func (c *ClientConfig) options() (*clickhouse.Options, error) {
	if c.Host == "" {
		return nil, fmt.Errorf("clickhouse: host is required")
	}
	port, protocol := c.Port, clickhouse.Native
	if c.HTTP {
		protocol = clickhouse.HTTP
	}
	if port == 0 {
		port = 9000
		if c.HTTP {
			port = 8123
		}
	}

	settings := clickhouse.Settings{}
	if c.MaxExecTime > 0 {
		settings["max_execution_time"] = int(c.MaxExecTime.Seconds())
	}
	if c.AsyncInsert {
		settings["async_insert"] = 1
		if c.WaitForAsync {
			settings["wait_for_async_insert"] = 1
		} else {
			settings["wait_for_async_insert"] = 0
		}
	}

	opts := &clickhouse.Options{
		Addr:     []string{fmt.Sprintf("%s:%d", c.Host, port)},
		Protocol: protocol,
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.User,
			Password: c.Password,
		},
		Settings:        settings,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
	if c.LZ4 {
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}
	return opts, nil
}

// WithAddr sets host and port. A zero port keeps the protocol default.
func WithAddr(host string, port int) ClientOption {
	return func(c *ClientConfig) {
		c.Host = host
		c.Port = port
	}
}

func WithDatabase(database string) ClientOption {
	return func(c *ClientConfig) {
		if database != "" {
			c.Database = database
		}
	}
}

func WithCredentials(user, password string) ClientOption {
	return func(c *ClientConfig) {
		if user != "" {
			c.User = user
		}
		c.Password = password
	}
}

// WithPool sizes the database/sql pool.
func WithPool(maxOpen, maxIdle int, lifetime time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if maxOpen > 0 {
			c.MaxOpenConns = maxOpen
		}
		if maxIdle > 0 {
			c.MaxIdleConns = maxIdle
		}
		if lifetime > 0 {
			c.ConnMaxLifetime = lifetime
		}
	}
}

// WithTimeouts sets dial, read and per-insert write timeouts. Zero keeps
// the default.
func WithTimeouts(dial, read, write time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if dial > 0 {
			c.DialTimeout = dial
		}
		if read > 0 {
			c.ReadTimeout = read
		}
		if write > 0 {
			c.WriteTimeout = write
		}
	}
}

// WithHTTP switches from the native protocol to HTTP.
func WithHTTP(useHTTP bool) ClientOption {
	return func(c *ClientConfig) { c.HTTP = useHTTP }
}

// WithAsyncInsert lets the server buffer inserts. With wait the insert
// returns once the buffer is flushed.
func WithAsyncInsert(enabled, wait bool) ClientOption {
	return func(c *ClientConfig) {
		c.AsyncInsert = enabled
		c.WaitForAsync = wait
	}
}

func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.MaxExecTime = d }
}

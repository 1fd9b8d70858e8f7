package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Client is a database/sql pool on the ClickHouse driver.
type Client struct {
	db           *sql.DB
	database     string
	writeTimeout time.Duration
}

// NewClient opens the pool and pings the server within the dial timeout.
func NewClient(ctx context.Context, opts ...ClientOption) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	chOpts, err := cfg.options()
	if err != nil {
		return nil, err
	}

	db := clickhouse.OpenDB(chOpts)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %s: %w", chOpts.Addr[0], err)
	}

	return &Client{db: db, database: cfg.Database, writeTimeout: cfg.WriteTimeout}, nil
}

func (c *Client) DB() *sql.DB {
	return c.db
}

// Database is the database named in the connection settings.
func (c *Client) Database() string {
	return c.database
}

// WriteTimeout is the deadline callers give each insert.
func (c *Client) WriteTimeout() time.Duration {
	return c.writeTimeout
}

func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.db.Close()
}

// InitSchema runs idempotent DDL statements in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

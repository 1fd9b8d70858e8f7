package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	pkgch "QuantPipe/pkg/clickhouse"
	applogger "QuantPipe/pkg/logger"
)

// ClickHouseSchema creates the analytics mirror. ReplacingMergeTree keeps the
// newest version per key, so re-mirroring the same bar is harmless.
func ClickHouseSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.daily_bars (
			symbol LowCardinality(String),
			date Date,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Int64,
			source LowCardinality(String),
			version DateTime64(3)
		) ENGINE = ReplacingMergeTree(version) ORDER BY (symbol, date)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.signals (
			model_id Int64,
			symbol LowCardinality(String),
			date Date,
			kind LowCardinality(String),
			strength Float64,
			confidence Float64,
			price Float64,
			position_size Float64,
			version DateTime64(3)
		) ENGINE = ReplacingMergeTree(version) ORDER BY (model_id, symbol, date)`, database),
	}
}

// CHMirror implements BarMirror backed by ClickHouse.
type CHMirror struct {
	db       *sql.DB
	database string
	timeout  time.Duration // per insert statement
	l        *applogger.Logger
}

var _ domrepo.BarMirror = (*CHMirror)(nil)

func NewCHMirror(ch *pkgch.Client, database string, l *applogger.Logger) *CHMirror {
	return &CHMirror{db: ch.DB(), database: database, timeout: ch.WriteTimeout(), l: l}
}

const mirrorChunkSize = 2000

// MirrorBars inserts bars with multi-row VALUES in chunks.
func (m *CHMirror) MirrorBars(ctx context.Context, bars []models.MarketBar) error {
	start := time.Now()
	now := time.Now().UTC()
	err := insertChunked(ctx, m.db, m.timeout, len(bars),
		fmt.Sprintf("INSERT INTO %s.daily_bars (symbol, date, open, high, low, close, volume, source, version) VALUES ", m.database),
		"(?, ?, ?, ?, ?, ?, ?, ?, ?)",
		func(i int) []interface{} {
			b := bars[i]
			return []interface{}{b.Symbol, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, b.Source, now}
		})
	m.log("clickhouse mirror bars", len(bars), start, err)
	return err
}

func (m *CHMirror) MirrorSignals(ctx context.Context, signals []models.SignalRecord) error {
	start := time.Now()
	now := time.Now().UTC()
	err := insertChunked(ctx, m.db, m.timeout, len(signals),
		fmt.Sprintf("INSERT INTO %s.signals (model_id, symbol, date, kind, strength, confidence, price, position_size, version) VALUES ", m.database),
		"(?, ?, ?, ?, ?, ?, ?, ?, ?)",
		func(i int) []interface{} {
			s := signals[i]
			return []interface{}{s.ModelID, s.Symbol, s.Date, string(s.Kind), s.Strength, s.Confidence, s.Price, s.PositionSize, now}
		})
	m.log("clickhouse mirror signals", len(signals), start, err)
	return err
}

func (m *CHMirror) log(msg string, rows int, start time.Time, err error) {
	if m.l == nil || rows == 0 {
		return
	}
	if err != nil {
		m.l.Error(msg+" error", applogger.Int("rows", rows), applogger.Error(err))
		return
	}
	m.l.Debug(msg+" ok",
		applogger.Int("rows", rows),
		applogger.Duration("duration_ms", time.Since(start)),
	)
}

func insertChunked(ctx context.Context, db *sql.DB, timeout time.Duration, n int, prefix, placeholder string, row func(i int) []interface{}) error {
	for start := 0; start < n; start += mirrorChunkSize {
		end := min(start+mirrorChunkSize, n)
		values := make([]string, 0, end-start)
		var args []interface{}
		for i := start; i < end; i++ {
			values = append(values, placeholder)
			args = append(args, row(i)...)
		}
		if err := execWithTimeout(ctx, db, timeout, prefix+strings.Join(values, ","), args); err != nil {
			return fmt.Errorf("clickhouse insert rows %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func execWithTimeout(ctx context.Context, db *sql.DB, timeout time.Duration, query string, args []interface{}) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, err := db.ExecContext(ctx, query, args...)
	return err
}

package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"

	"QuantPipe/internal/domain/models"
	"QuantPipe/pkg/postgres"
)

func (s *PGStore) UpsertUniverse(ctx context.Context, symbols []models.UniverseSymbol) error {
	err := postgres.WithTx(ctx, s.pool, func(tx postgres.Tx) error {
		for _, u := range symbols {
			if _, err := tx.Exec(ctx, `
				INSERT INTO trading_universe (symbol, sector, active, updated_at)
				VALUES ($1, $2, $3, NOW())
				ON CONFLICT (symbol) DO UPDATE
				SET sector = EXCLUDED.sector, active = EXCLUDED.active, updated_at = NOW()`,
				u.Symbol, u.Sector, u.Active); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapErr("upsert universe", err)
}

func (s *PGStore) ActiveSymbols(ctx context.Context) ([]models.UniverseSymbol, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, sector, active FROM trading_universe
		WHERE active ORDER BY symbol`)
	if err != nil {
		return nil, wrapErr("active symbols", err)
	}
	defer rows.Close()

	var out []models.UniverseSymbol
	for rows.Next() {
		var u models.UniverseSymbol
		if err := rows.Scan(&u.Symbol, &u.Sector, &u.Active); err != nil {
			return nil, wrapErr("scan universe", err)
		}
		out = append(out, u)
	}
	return out, wrapErr("active symbols", rows.Err())
}

// UpsertBars writes bars in one transaction; on conflict latest values win.
func (s *PGStore) UpsertBars(ctx context.Context, bars []models.MarketBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	err := postgres.WithTx(ctx, s.pool, func(tx postgres.Tx) error {
		for _, b := range bars {
			if _, err := tx.Exec(ctx, `
				INSERT INTO market_data (symbol, date, open, high, low, close, volume, vwap, trades, source, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
				ON CONFLICT (symbol, date) DO UPDATE
				SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
				    close = EXCLUDED.close, volume = EXCLUDED.volume, vwap = EXCLUDED.vwap,
				    trades = EXCLUDED.trades, source = EXCLUDED.source, updated_at = NOW()`,
				b.Symbol, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, b.VWAP, b.Trades, b.Source); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, wrapErr("upsert bars", err)
	}
	return len(bars), nil
}

const barColumns = `symbol, date, open, high, low, close, volume, vwap, trades, source`

func scanBar(row pgx.Row) (models.MarketBar, error) {
	var b models.MarketBar
	err := row.Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.VWAP, &b.Trades, &b.Source)
	return b, err
}

func (s *PGStore) GetBar(ctx context.Context, symbol string, date time.Time) (models.MarketBar, error) {
	b, err := scanBar(s.pool.QueryRow(ctx,
		`SELECT `+barColumns+` FROM market_data WHERE symbol = $1 AND date = $2`, symbol, date))
	return b, wrapErr("get bar", err)
}

func (s *PGStore) ListBars(ctx context.Context, symbol string, from, to time.Time) ([]models.MarketBar, error) {
	return s.queryBars(ctx, "list bars", `
		SELECT `+barColumns+` FROM market_data
		WHERE symbol = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC`, symbol, from, to)
}

// BarsAfter returns up to n bars strictly after date, oldest first.
func (s *PGStore) BarsAfter(ctx context.Context, symbol string, date time.Time, n int) ([]models.MarketBar, error) {
	return s.queryBars(ctx, "bars after", `
		SELECT `+barColumns+` FROM market_data
		WHERE symbol = $1 AND date > $2
		ORDER BY date ASC LIMIT $3`, symbol, date, n)
}

func (s *PGStore) queryBars(ctx context.Context, op, sql string, args ...interface{}) ([]models.MarketBar, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var out []models.MarketBar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		out = append(out, b)
	}
	return out, wrapErr(op, rows.Err())
}

func (s *PGStore) LatestBarDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	return s.maxDate(ctx, "latest bar date", `SELECT MAX(date) FROM market_data WHERE symbol = $1`, symbol)
}

func (s *PGStore) LatestDate(ctx context.Context) (time.Time, bool, error) {
	return s.maxDate(ctx, "latest date", `SELECT MAX(date) FROM market_data`)
}

func (s *PGStore) maxDate(ctx context.Context, op, sql string, args ...interface{}) (time.Time, bool, error) {
	var d *time.Time
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&d); err != nil {
		return time.Time{}, false, wrapErr(op, err)
	}
	if d == nil {
		return time.Time{}, false, nil
	}
	return *d, true, nil
}

func (s *PGStore) CountBarsOn(ctx context.Context, date time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM market_data m
		JOIN trading_universe u ON u.symbol = m.symbol AND u.active
		WHERE m.date = $1`, date).Scan(&n)
	return n, wrapErr("count bars", err)
}

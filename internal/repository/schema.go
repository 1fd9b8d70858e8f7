package repository

// PostgresSchema is the single authoritative schema, applied in order at
// startup. Every statement is idempotent.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS trading_universe (
		symbol      TEXT PRIMARY KEY,
		sector      TEXT NOT NULL DEFAULT '',
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS market_data (
		symbol      TEXT NOT NULL,
		date        DATE NOT NULL,
		open        NUMERIC(12,4) NOT NULL,
		high        NUMERIC(12,4) NOT NULL,
		low         NUMERIC(12,4) NOT NULL,
		close       NUMERIC(12,4) NOT NULL,
		volume      BIGINT NOT NULL,
		vwap        NUMERIC(12,4),
		trades      BIGINT,
		source      TEXT NOT NULL DEFAULT '',
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (symbol, date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_market_data_date ON market_data (date)`,
	`CREATE TABLE IF NOT EXISTS technical_features (
		symbol          TEXT NOT NULL,
		date            DATE NOT NULL,
		feature_set     TEXT NOT NULL,
		feature_values  JSONB NOT NULL,
		computed_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (symbol, date, feature_set)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_technical_features_date ON technical_features (date, feature_set)`,
	`CREATE TABLE IF NOT EXISTS models (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL,
		version     TEXT NOT NULL,
		model_type  TEXT NOT NULL,
		parameters  JSONB NOT NULL DEFAULT '{}',
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (name, version)
	)`,
	`CREATE TABLE IF NOT EXISTS model_runs (
		id                 UUID PRIMARY KEY,
		model_id           BIGINT NOT NULL REFERENCES models(id),
		run_date           DATE NOT NULL,
		status             TEXT NOT NULL,
		universe_size      INTEGER NOT NULL DEFAULT 0,
		signals_generated  INTEGER NOT NULL DEFAULT 0,
		errors             INTEGER NOT NULL DEFAULT 0,
		started_at         TIMESTAMPTZ NOT NULL,
		finished_at        TIMESTAMPTZ,
		metadata           JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id             BIGSERIAL PRIMARY KEY,
		model_id       BIGINT NOT NULL REFERENCES models(id),
		model_run_id   UUID REFERENCES model_runs(id),
		symbol         TEXT NOT NULL,
		signal_date    DATE NOT NULL,
		signal_type    TEXT NOT NULL,
		strength       DOUBLE PRECISION NOT NULL,
		confidence     DOUBLE PRECISION NOT NULL,
		target_price   NUMERIC(12,4),
		price          NUMERIC(12,4) NOT NULL,
		position_size  DOUBLE PRECISION NOT NULL DEFAULT 0,
		metadata       JSONB,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (model_id, symbol, signal_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_date ON signals (signal_date)`,
	`CREATE TABLE IF NOT EXISTS model_performance (
		model_id                    BIGINT NOT NULL REFERENCES models(id),
		evaluation_date             DATE NOT NULL,
		window_start                DATE NOT NULL,
		window_end                  DATE NOT NULL,
		total_trades                INTEGER NOT NULL,
		winning_trades              INTEGER NOT NULL,
		excluded_signals            INTEGER NOT NULL DEFAULT 0,
		total_return                DOUBLE PRECISION NOT NULL,
		avg_return                  DOUBLE PRECISION NOT NULL,
		win_rate                    DOUBLE PRECISION NOT NULL,
		avg_win                     DOUBLE PRECISION NOT NULL,
		avg_loss                    DOUBLE PRECISION NOT NULL,
		volatility                  DOUBLE PRECISION NOT NULL,
		sharpe_ratio                DOUBLE PRECISION NOT NULL,
		sortino_ratio               DOUBLE PRECISION NOT NULL,
		max_drawdown                DOUBLE PRECISION NOT NULL,
		profit_factor               DOUBLE PRECISION NOT NULL,
		prediction_accuracy         DOUBLE PRECISION NOT NULL,
		confidence_weighted_return  DOUBLE PRECISION NOT NULL,
		updated_at                  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (model_id, evaluation_date)
	)`,
	`CREATE TABLE IF NOT EXISTS performance_reports (
		report_date  DATE PRIMARY KEY,
		total_models INTEGER NOT NULL,
		report       JSONB NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS data_quality_checks (
		check_date  DATE PRIMARY KEY,
		score       DOUBLE PRECISION NOT NULL,
		passed      BOOLEAN NOT NULL,
		report      JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id            UUID PRIMARY KEY,
		run_id        TEXT NOT NULL,
		logical_date  DATE NOT NULL,
		stage         TEXT NOT NULL,
		status        TEXT NOT NULL,
		attempts      INTEGER NOT NULL DEFAULT 0,
		started_at    TIMESTAMPTZ NOT NULL,
		finished_at   TIMESTAMPTZ,
		error         TEXT NOT NULL DEFAULT '',
		details       JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_date ON pipeline_runs (logical_date)`,
}

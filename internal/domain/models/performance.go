package models

import "time"

// TradeOutcome pairs a signal with its realised forward return.
type TradeOutcome struct {
	SignalID       int64      `json:"signal_id"`
	Symbol         string     `json:"symbol"`
	Date           time.Time  `json:"date"`
	Kind           SignalKind `json:"kind"`
	Confidence     float64    `json:"confidence"`
	EntryPrice     float64    `json:"entry_price"`
	ExitPrice      float64    `json:"exit_price"`
	Return         float64    `json:"return"`
	ExpectedReturn *float64   `json:"expected_return,omitempty"`
}

// PerformanceRecord is one row per (ModelID, EvaluationDate).
type PerformanceRecord struct {
	ModelID                  int64     `json:"model_id"`
	ModelName                string    `json:"model_name"`
	EvaluationDate           time.Time `json:"evaluation_date"`
	WindowStart              time.Time `json:"window_start"`
	WindowEnd                time.Time `json:"window_end"`
	TotalTrades              int       `json:"total_trades"`
	WinningTrades            int       `json:"winning_trades"`
	ExcludedSignals          int       `json:"excluded_signals"`
	TotalReturn              float64   `json:"total_return"`
	AvgReturn                float64   `json:"avg_return"`
	WinRate                  float64   `json:"win_rate"`
	AvgWin                   float64   `json:"avg_win"`
	AvgLoss                  float64   `json:"avg_loss"`
	Volatility               float64   `json:"volatility"`
	Sharpe                   float64   `json:"sharpe"`
	Sortino                  float64   `json:"sortino"`
	MaxDrawdown              float64   `json:"max_drawdown"`
	ProfitFactor             float64   `json:"profit_factor"`
	PredictionAccuracy       float64   `json:"prediction_accuracy"`
	ConfidenceWeightedReturn float64   `json:"confidence_weighted_return"`
}

// ModelRanking is one entry of a report's ranking table.
type ModelRanking struct {
	Rank               int     `json:"rank"`
	ModelID            int64   `json:"model_id"`
	ModelName          string  `json:"model_name"`
	Sharpe             float64 `json:"sharpe"`
	TotalReturn        float64 `json:"total_return"`
	AvgReturn          float64 `json:"avg_return"`
	WinRate            float64 `json:"win_rate"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	OverallScore       float64 `json:"overall_score"`
	TotalTrades        int     `json:"total_trades"`
	InsufficientSample bool    `json:"insufficient_sample"`
}

// PerformanceReport is unique per ReportDate.
type PerformanceReport struct {
	ReportDate      time.Time      `json:"report_date"`
	TotalModels     int            `json:"total_models"`
	AvgReturnAll    float64        `json:"avg_return_all_models"`
	BestModel       *ModelRanking  `json:"best_model,omitempty"`
	WorstModel      *ModelRanking  `json:"worst_model,omitempty"`
	Rankings        []ModelRanking `json:"rankings"`
	Underperforming []string       `json:"underperforming,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

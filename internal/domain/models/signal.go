package models

import "time"

// SignalKind is the discrete recommendation of a signal.
type SignalKind string

const (
	SignalBuy  SignalKind = "buy"
	SignalSell SignalKind = "sell"
	SignalHold SignalKind = "hold"
)

// Direction returns +1 for buy, -1 for sell and 0 otherwise.
func (k SignalKind) Direction() float64 {
	switch k {
	case SignalBuy:
		return 1
	case SignalSell:
		return -1
	default:
		return 0
	}
}

// SignalRecord is append-only and unique per (ModelID, Symbol, Date).
type SignalRecord struct {
	ID           int64                  `json:"id"`
	ModelID      int64                  `json:"model_id"`
	ModelRunID   string                 `json:"model_run_id"`
	Symbol       string                 `json:"symbol"`
	Date         time.Time              `json:"date"`
	Kind         SignalKind             `json:"kind"`
	Strength     float64                `json:"strength"`
	Confidence   float64                `json:"confidence"`
	TargetPrice  *float64               `json:"target_price,omitempty"`
	Price        float64                `json:"price"`
	PositionSize float64                `json:"position_size"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// RunStatus is the lifecycle state of a model run or pipeline stage.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusSkipped   RunStatus = "skipped"
)

// ModelRun tracks one execution of one model for one date.
type ModelRun struct {
	ID               string                 `json:"id"`
	ModelID          int64                  `json:"model_id"`
	RunDate          time.Time              `json:"run_date"`
	Status           RunStatus              `json:"status"`
	UniverseSize     int                    `json:"universe_size"`
	SignalsGenerated int                    `json:"signals_generated"`
	Errors           int                    `json:"errors"`
	StartedAt        time.Time              `json:"started_at"`
	FinishedAt       *time.Time             `json:"finished_at,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ExecutionSummary aggregates one signal stage over all models.
type ExecutionSummary struct {
	Date              time.Time `json:"date"`
	ModelsExecuted    int       `json:"models_executed"`
	ModelsSucceeded   int       `json:"models_succeeded"`
	SuccessRate       float64   `json:"success_rate"`
	TotalSignals      int       `json:"total_signals"`
	ModelsWithoutSigs []string  `json:"models_without_signals,omitempty"`
	Alerts            []string  `json:"alerts,omitempty"`
}

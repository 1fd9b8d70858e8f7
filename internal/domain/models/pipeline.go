package models

import "time"

// Stage is one step of the daily chain.
type Stage string

const (
	StageIngestion   Stage = "ingestion"
	StageFeatures    Stage = "features"
	StageQuality     Stage = "quality"
	StageSignals     Stage = "signals"
	StagePerformance Stage = "performance"
)

// StageOrder is the fixed execution order. A stage starts only after every
// earlier requested stage completed.
var StageOrder = []Stage{StageIngestion, StageFeatures, StageQuality, StageSignals, StagePerformance}

// ParseStage maps a name to a known stage.
func ParseStage(s string) (Stage, bool) {
	for _, st := range StageOrder {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// RunRequest asks the runner to execute stages for one logical date.
// Empty Stages means all stages.
type RunRequest struct {
	RunID   string    `json:"run_id"`
	Date    time.Time `json:"date"`
	Stages  []Stage   `json:"stages,omitempty"`
	Trigger string    `json:"trigger"`
}

// Ordered returns the requested stages in execution order.
func (r RunRequest) Ordered() []Stage {
	if len(r.Stages) == 0 {
		return append([]Stage(nil), StageOrder...)
	}
	want := make(map[Stage]bool, len(r.Stages))
	for _, s := range r.Stages {
		want[s] = true
	}
	out := make([]Stage, 0, len(want))
	for _, s := range StageOrder {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}

// PipelineRun records one attempt sequence of one stage for one date.
type PipelineRun struct {
	ID          string                 `json:"id"`
	RunID       string                 `json:"run_id"`
	LogicalDate time.Time              `json:"logical_date"`
	Stage       Stage                  `json:"stage"`
	Status      RunStatus              `json:"status"`
	Attempts    int                    `json:"attempts"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// StageResult is what a stage reports back to the runner.
type StageResult struct {
	Stage   Stage                  `json:"stage"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Event types published on the pipeline events topic.
const (
	EventStageCompleted    = "stage_completed"
	EventStageFailed       = "stage_failed"
	EventQualityReport     = "quality_report"
	EventExecutionSummary  = "execution_summary"
	EventPerformanceReport = "performance_report"
)

// PipelineEvent is the envelope for everything on the events topic.
type PipelineEvent struct {
	Type        string      `json:"type"`
	RunID       string      `json:"run_id,omitempty"`
	LogicalDate string      `json:"logical_date"`
	Stage       Stage       `json:"stage,omitempty"`
	Error       string      `json:"error,omitempty"`
	Payload     interface{} `json:"payload,omitempty"`
	EmittedAt   time.Time   `json:"emitted_at"`
}

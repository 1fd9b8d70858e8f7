package models

// Requests for the query and control API. Dates use YYYY-MM-DD.

type CreateRunRequest struct {
	Date   string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Stages []string `json:"stages" validate:"omitempty,dive,oneof=ingestion features quality signals performance"`
}

type ListRunsRequest struct {
	Date string `query:"date" json:"date" validate:"required,datetime=2006-01-02"`
}

type BarsRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,max=16"`
	From   string `query:"from" json:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string `query:"to" json:"to" validate:"omitempty,datetime=2006-01-02"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=50000"`
}

type FeaturesRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,max=16"`
	Date   string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
	Set    string `query:"set" json:"set" default:"technical_v1" validate:"required"`
}

type SignalsRequest struct {
	Date    string `query:"date" json:"date" validate:"required,datetime=2006-01-02"`
	ModelID int64  `query:"model_id" json:"model_id" validate:"gte=0"`
	Symbol  string `query:"symbol" json:"symbol" validate:"omitempty,max=16"`
}

// DateParamRequest reads a :date path segment.
type DateParamRequest struct {
	Date string `param:"date" json:"date" validate:"required,datetime=2006-01-02"`
}

// RunAccepted is returned when a run was handed to the dispatcher.
type RunAccepted struct {
	RunID  string   `json:"run_id"`
	Date   string   `json:"date"`
	Stages []string `json:"stages"`
}

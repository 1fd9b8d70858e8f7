package models

import "time"

// QualityReport summarises data completeness and freshness for a date.
type QualityReport struct {
	CheckDate           time.Time `json:"check_date"`
	ExpectedSymbols     int       `json:"expected_symbols"`
	BarsPresent         int       `json:"bars_present"`
	FeaturesPresent     int       `json:"features_present"`
	BarCompleteness     float64   `json:"bar_completeness"`
	FeatureCompleteness float64   `json:"feature_completeness"`
	LatestBarDate       time.Time `json:"latest_bar_date"`
	StalenessDays       int       `json:"staleness_days"`
	Score               float64   `json:"score"`
	Passed              bool      `json:"passed"`
	Issues              []string  `json:"issues,omitempty"`
}

package models

import (
	"sort"
	"time"
)

// DefaultFeatureSet names the bundle written by the feature stage.
const DefaultFeatureSet = "technical_v1"

// Indicators maps indicator name to value. A nil value is a null indicator
// (not enough history), which serialises as JSON null.
type Indicators map[string]*float64

// Get returns the value and whether it is present and non-null.
func (in Indicators) Get(name string) (float64, bool) {
	v, ok := in[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// Set stores a value.
func (in Indicators) Set(name string, v float64) {
	val := v
	in[name] = &val
}

// SetNull records that name was requested but could not be computed.
func (in Indicators) SetNull(name string) {
	in[name] = nil
}

// Names returns indicator names in sorted order.
func (in Indicators) Names() []string {
	names := make([]string, 0, len(in))
	for k := range in {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// FeatureRecord bundles all indicators for one symbol and date.
// Unique per (Symbol, Date, FeatureSet).
type FeatureRecord struct {
	Symbol     string     `json:"symbol"`
	Date       time.Time  `json:"date"`
	FeatureSet string     `json:"feature_set"`
	Values     Indicators `json:"values"`
	ComputedAt time.Time  `json:"computed_at"`
}

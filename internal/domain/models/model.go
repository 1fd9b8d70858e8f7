package models

import "time"

// ModelTypeMomentum identifies the moving-average crossover family.
const ModelTypeMomentum = "momentum"

// Model is a registered signal model. Parameters are interpreted by the
// strategy selected through Type.
type Model struct {
	ID         int64              `json:"id"`
	Name       string             `json:"name"`
	Version    string             `json:"version"`
	Type       string             `json:"type"`
	Parameters map[string]float64 `json:"parameters"`
	Active     bool               `json:"active"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

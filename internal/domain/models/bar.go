package models

import (
	"fmt"
	"time"
)

// MarketBar is one daily OHLCV record. Unique per (Symbol, Date).
type MarketBar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	VWAP   *float64  `json:"vwap,omitempty"`
	Trades *int64    `json:"trades,omitempty"`
	Source string    `json:"source"`
}

// Validate rejects bars that cannot be used downstream.
func (b MarketBar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrMalformedData)
	}
	if b.Date.IsZero() {
		return fmt.Errorf("%w: %s: missing date", ErrMalformedData, b.Symbol)
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("%w: %s: non-positive price", ErrMalformedData, b.Symbol)
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: %s: high %.4f below low %.4f", ErrMalformedData, b.Symbol, b.High, b.Low)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: %s: negative volume", ErrMalformedData, b.Symbol)
	}
	return nil
}

// UniverseSymbol is a tradable symbol tracked by the pipeline.
type UniverseSymbol struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Sector string `json:"sector" yaml:"sector"`
	Active bool   `json:"active" yaml:"active"`
}

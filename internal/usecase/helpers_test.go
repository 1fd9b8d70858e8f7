package usecase

import (
	"context"
	"sync"
	"time"

	"QuantPipe/internal/domain/models"
	"QuantPipe/pkg/metrics"
	"QuantPipe/pkg/util"
)

type fetchCall struct {
	symbol   string
	from, to time.Time
}

type fakeProvider struct {
	mu    sync.Mutex
	bars  map[string][]models.MarketBar
	errs  map[string]error
	calls []fetchCall
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{bars: map[string][]models.MarketBar{}, errs: map[string]error{}}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) FetchDailyBars(_ context.Context, symbol string, from, to time.Time) ([]models.MarketBar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fetchCall{symbol, from, to})
	if err := p.errs[symbol]; err != nil {
		return nil, err
	}
	var out []models.MarketBar
	for _, b := range p.bars[symbol] {
		if !b.Date.Before(from) && !b.Date.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (p *fakeProvider) callFor(symbol string) (fetchCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.calls) - 1; i >= 0; i-- {
		if p.calls[i].symbol == symbol {
			return p.calls[i], true
		}
	}
	return fetchCall{}, false
}

type recordingPublisher struct {
	mu      sync.Mutex
	events  []models.PipelineEvent
	signals []models.SignalRecord
	reports []models.PerformanceReport
}

func (p *recordingPublisher) PublishSignals(_ context.Context, s []models.SignalRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, s...)
	return nil
}

func (p *recordingPublisher) PublishReport(_ context.Context, r models.PerformanceReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, r)
	return nil
}

func (p *recordingPublisher) PublishEvent(_ context.Context, ev models.PipelineEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type stubMirror struct {
	err     error
	bars    int
	signals int
}

func (m *stubMirror) MirrorBars(_ context.Context, bars []models.MarketBar) error {
	m.bars += len(bars)
	return m.err
}

func (m *stubMirror) MirrorSignals(_ context.Context, s []models.SignalRecord) error {
	m.signals += len(s)
	return m.err
}

// countingMetrics keeps the counters tests assert on.
type countingMetrics struct {
	metrics.Nop
	mu       sync.Mutex
	alerts   map[string]int
	failures map[string]int
	stages   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{alerts: map[string]int{}, failures: map[string]int{}, stages: map[string]int{}}
}

func (m *countingMetrics) RecordAlert(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[kind]++
}

func (m *countingMetrics) RecordSymbolFailure(stage, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[stage+"/"+kind]++
}

func (m *countingMetrics) RecordStage(stage, status string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stage+"/"+status]++
}

// tradingDays returns n consecutive weekdays starting at start.
func tradingDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := util.Day(start); len(out) < n; d = d.AddDate(0, 0, 1) {
		if !util.IsWeekend(d) {
			out = append(out, d)
		}
	}
	return out
}

// makeBars builds a bar per close on consecutive weekdays.
func makeBars(symbol string, start time.Time, closes []float64, volumes []int64) []models.MarketBar {
	days := tradingDays(start, len(closes))
	bars := make([]models.MarketBar, len(closes))
	for i, c := range closes {
		vol := int64(1000)
		if i < len(volumes) {
			vol = volumes[i]
		}
		bars[i] = models.MarketBar{
			Symbol: symbol,
			Date:   days[i],
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: vol,
			Source: "fake",
		}
	}
	return bars
}

// trend produces n closes growing by step from base.
func trend(base, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = base + step*float64(i)
	}
	return out
}

// exampleModel is the worked example rule: price against a 3-day average.
func exampleModel() models.Model {
	return models.Model{
		Name:    "example_momentum",
		Version: "1.0",
		Type:    models.ModelTypeMomentum,
		Active:  true,
		Parameters: map[string]float64{
			"short_window":        1,
			"long_window":         3,
			"rsi_period":          2,
			"rsi_lower":           0,
			"rsi_upper":           100,
			"volume_period":       3,
			"min_volume_ratio":    1.2,
			"momentum_period":     1,
			"volatility_lookback": 3,
			"min_confidence":      0.3,
		},
	}
}

var (
	exampleStart   = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	exampleCloses  = []float64{100, 102, 101, 105, 107}
	exampleVolumes = []int64{1000, 1000, 1000, 2000, 1500}
)

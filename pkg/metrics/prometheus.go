package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quantpipe"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	stageDuration    *prometheus.HistogramVec
	stageResults     *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	symbolFailures   *prometheus.CounterVec
	signalsEmitted   *prometheus.CounterVec
	modelSharpe      *prometheus.GaugeVec
	qualityScore     prometheus.Gauge
	alerts           *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	lastPrice        *prometheus.GaugeVec
	latency          *prometheus.HistogramVec
}

// New creates a recorder registered on reg. A nil reg uses the default
// registerer, which is what /metrics serves.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall time of one pipeline stage attempt",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		stageResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_results_total",
				Help:      "Pipeline stage outcomes",
			},
			[]string{"stage", "status"},
		),
		providerRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Market data provider requests by result (ok, transient, error)",
			},
			[]string{"provider", "result"},
		),
		symbolFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "symbol_failures_total",
				Help:      "Symbols that failed inside a stage, by error kind",
			},
			[]string{"stage", "kind"},
		),
		signalsEmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_emitted_total",
				Help:      "Signals persisted per model and kind",
			},
			[]string{"model", "kind"},
		),
		modelSharpe: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_sharpe_ratio",
				Help:      "Latest evaluated Sharpe ratio per model",
			},
			[]string{"model"},
		),
		qualityScore: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "data_quality_score",
				Help:      "Latest data quality score (0-100)",
			},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alert-worthy pipeline events",
			},
			[]string{"kind"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_close",
				Help:      "Last stored close price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordStage records one stage attempt.
func (r *Recorder) RecordStage(stage, status string, seconds float64) {
	r.stageDuration.WithLabelValues(stage).Observe(seconds)
	r.stageResults.WithLabelValues(stage, status).Inc()
}

func (r *Recorder) RecordProviderRequest(provider, result string) {
	r.providerRequests.WithLabelValues(provider, result).Inc()
}

func (r *Recorder) RecordSymbolFailure(stage, kind string) {
	r.symbolFailures.WithLabelValues(stage, kind).Inc()
}

func (r *Recorder) RecordSignals(model, kind string, n int) {
	r.signalsEmitted.WithLabelValues(model, kind).Add(float64(n))
}

func (r *Recorder) RecordModelSharpe(model string, sharpe float64) {
	r.modelSharpe.WithLabelValues(model).Set(sharpe)
}

func (r *Recorder) RecordQualityScore(score float64) {
	r.qualityScore.Set(score)
}

func (r *Recorder) RecordAlert(kind string) {
	r.alerts.WithLabelValues(kind).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordStage(string, string, float64)  {}
func (Nop) RecordProviderRequest(string, string) {}
func (Nop) RecordSymbolFailure(string, string)   {}
func (Nop) RecordSignals(string, string, int)    {}
func (Nop) RecordModelSharpe(string, float64)    {}
func (Nop) RecordQualityScore(float64)           {}
func (Nop) RecordAlert(string)                   {}
func (Nop) RecordError(string)                   {}
func (Nop) RecordLastPrice(string, float64)      {}
func (Nop) RecordLatency(string, float64)        {}

package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	pkgkafka "QuantPipe/pkg/kafka"
	"QuantPipe/pkg/logger"
)

// Alert kinds used as the metric label.
const (
	AlertQualityFailed    = "quality_failed"
	AlertStageFailed      = "stage_failed"
	AlertExecutionSummary = "execution_summary"
	AlertUnderperforming  = "underperforming_models"
)

// AlertHandler consumes pipeline events and raises alerts for the ones
// that need attention.
type AlertHandler struct {
	topic   string
	metrics domrepo.Metrics
	l       *logger.Logger
}

func NewAlertHandler(topic string, metrics domrepo.Metrics, l *logger.Logger) *AlertHandler {
	return &AlertHandler{topic: topic, metrics: metrics, l: l}
}

func (h *AlertHandler) Topic() string { return h.topic }

type eventEnvelope struct {
	Type        string          `json:"type"`
	RunID       string          `json:"run_id"`
	LogicalDate string          `json:"logical_date"`
	Stage       models.Stage    `json:"stage"`
	Error       string          `json:"error"`
	Payload     json.RawMessage `json:"payload"`
	EmittedAt   time.Time       `json:"emitted_at"`
}

func (h *AlertHandler) Handle(_ context.Context, b []byte) error {
	var ev eventEnvelope
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode pipeline event: %w", err)
	}
	if !ev.EmittedAt.IsZero() {
		h.metrics.RecordLatency("event_delivery_seconds", time.Since(ev.EmittedAt).Seconds())
	}

	base := []logger.Field{
		logger.String("event", ev.Type),
		logger.String("date", ev.LogicalDate),
		logger.String("run_id", ev.RunID),
	}
	switch ev.Type {
	case models.EventStageFailed:
		h.alert(AlertStageFailed, "pipeline stage failed",
			append(base, logger.String("stage", string(ev.Stage)), logger.String("error", ev.Error)))

	case models.EventQualityReport:
		var rep models.QualityReport
		if err := decodePayload(ev.Payload, &rep); err != nil {
			return err
		}
		if !rep.Passed {
			h.alert(AlertQualityFailed, "data quality check failed",
				append(base, logger.Float64("score", rep.Score), logger.Strings("issues", rep.Issues)))
		}

	case models.EventExecutionSummary:
		var s models.ExecutionSummary
		if err := decodePayload(ev.Payload, &s); err != nil {
			return err
		}
		if len(s.Alerts) > 0 {
			h.alert(AlertExecutionSummary, "signal generation needs attention",
				append(base, logger.Strings("alerts", s.Alerts), logger.Float64("success_rate", s.SuccessRate)))
		}

	case models.EventPerformanceReport:
		var rep models.PerformanceReport
		if err := decodePayload(ev.Payload, &rep); err != nil {
			return err
		}
		if len(rep.Underperforming) > 0 {
			h.alert(AlertUnderperforming, "models underperforming",
				append(base, logger.Strings("models", rep.Underperforming)))
		}

	default:
		h.l.Debug("pipeline event", base...)
	}
	return nil
}

func (h *AlertHandler) alert(kind, msg string, fields []logger.Field) {
	h.metrics.RecordAlert(kind)
	h.l.Error(msg, append(fields, logger.String("alert", kind))...)
}

func decodePayload(raw json.RawMessage, dest interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*AlertHandler)(nil)

package repository

import (
	"context"
	"time"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	pkgkafka "QuantPipe/pkg/kafka"
)

// MessageProducer is the part of *pkgkafka.Producer the publisher uses.
type MessageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// Topics names the Kafka topics the pipeline writes to.
type Topics struct {
	Signals string
	Reports string
	Events  string
	Logs    string
}

// KafkaPublisher implements EventPublisher for Kafka.
type KafkaPublisher struct {
	producer MessageProducer
	topics   Topics
}

var _ domrepo.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer MessageProducer, topics Topics) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topics: topics}
}

// PublishSignals sends one message per signal keyed by symbol so a symbol's
// signals stay ordered within a partition.
func (p *KafkaPublisher) PublishSignals(ctx context.Context, signals []models.SignalRecord) error {
	if len(signals) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(signals))
	for i, s := range signals {
		msgs[i] = pkgkafka.Message{Key: []byte(s.Symbol), Value: s}
	}
	return p.producer.PublishBatch(ctx, p.topics.Signals, msgs)
}

func (p *KafkaPublisher) PublishReport(ctx context.Context, rep models.PerformanceReport) error {
	return p.producer.Publish(ctx, p.topics.Reports, []byte(rep.ReportDate.Format(time.DateOnly)), rep)
}

func (p *KafkaPublisher) PublishEvent(ctx context.Context, ev models.PipelineEvent) error {
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now().UTC()
	}
	// the run id travels as the trace_id header for consumers
	ctx = pkgkafka.WithTraceID(ctx, ev.RunID)
	return p.producer.Publish(ctx, p.topics.Events, []byte(ev.LogicalDate), ev)
}

// PublishMessage lets the log collector ship aggregated logs.
func (p *KafkaPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	if topic == "" {
		topic = p.topics.Logs
	}
	return p.producer.Publish(ctx, topic, nil, payload)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NoopPublisher drops everything. Used when Kafka is disabled.
type NoopPublisher struct{}

var _ domrepo.EventPublisher = NoopPublisher{}

func (NoopPublisher) PublishSignals(context.Context, []models.SignalRecord) error   { return nil }
func (NoopPublisher) PublishReport(context.Context, models.PerformanceReport) error { return nil }
func (NoopPublisher) PublishEvent(context.Context, models.PipelineEvent) error      { return nil }
func (NoopPublisher) Close() error                                                  { return nil }

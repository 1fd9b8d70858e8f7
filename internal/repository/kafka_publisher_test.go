package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantPipe/internal/domain/models"
	pkgkafka "QuantPipe/pkg/kafka"
)

type sent struct {
	topic string
	key   string
	value interface{}
}

type fakeProducer struct {
	msgs   []sent
	traces []string
	closed bool
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	f.msgs = append(f.msgs, sent{topic, string(key), value})
	f.traces = append(f.traces, pkgkafka.TraceIDFromContext(ctx))
	return nil
}

func (f *fakeProducer) PublishBatch(_ context.Context, topic string, messages []pkgkafka.Message) error {
	for _, m := range messages {
		f.msgs = append(f.msgs, sent{topic, string(m.Key), m.Value})
	}
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherRoutesTopics(t *testing.T) {
	ctx := context.Background()
	fp := &fakeProducer{}
	p := NewKafkaPublisher(fp, Topics{Signals: "signals", Reports: "reports", Events: "pipeline-events", Logs: "logs"})
	date := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	require.NoError(t, p.PublishSignals(ctx, []models.SignalRecord{{Symbol: "AAPL"}, {Symbol: "MSFT"}}))
	require.NoError(t, p.PublishSignals(ctx, nil))
	require.NoError(t, p.PublishReport(ctx, models.PerformanceReport{ReportDate: date}))
	require.NoError(t, p.PublishEvent(ctx, models.PipelineEvent{Type: models.EventStageCompleted, RunID: "run-1", LogicalDate: "2024-06-03"}))
	require.NoError(t, p.PublishMessage(ctx, "", map[string]string{"level": "error"}))

	require.Len(t, fp.msgs, 5)
	assert.Equal(t, sent{"signals", "AAPL", models.SignalRecord{Symbol: "AAPL"}}, fp.msgs[0])
	assert.Equal(t, "MSFT", fp.msgs[1].key)
	assert.Equal(t, "reports", fp.msgs[2].topic)
	assert.Equal(t, "2024-06-03", fp.msgs[2].key)
	assert.Equal(t, "pipeline-events", fp.msgs[3].topic)
	assert.Equal(t, []string{"", "run-1", ""}, fp.traces)
	ev := fp.msgs[3].value.(models.PipelineEvent)
	assert.False(t, ev.EmittedAt.IsZero())
	assert.Equal(t, "logs", fp.msgs[4].topic)

	require.NoError(t, p.Close())
	assert.True(t, fp.closed)
}

package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeDLQ struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (d *fakeDLQ) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msgs...)
	return nil
}

func (d *fakeDLQ) Close() error { return nil }

func (d *fakeDLQ) written() []kafka.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]kafka.Message(nil), d.msgs...)
}

type funcHandler struct {
	topic string
	fn    func(ctx context.Context, data []byte) error
}

func (h funcHandler) Topic() string                                 { return h.topic }
func (h funcHandler) Handle(ctx context.Context, data []byte) error { return h.fn(ctx, data) }

func newTestConsumer(t *testing.T, r *fakeReader, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerWorkers(3),
		WithConsumerRetry(1, time.Millisecond, 2*time.Millisecond),
		WithConsumerRegisterer(prometheus.NewRegistry()),
	}, opts...)
	c, err := NewConsumer(opts...)
	require.NoError(t, err)
	c.newReader = func(string) fetcher { return r }
	return c
}

func stopConsumer(t *testing.T, c *Consumer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
}

func TestConsumerHandlesPartitionInOrder(t *testing.T) {
	var msgs []kafka.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, kafka.Message{Partition: 2, Offset: int64(i), Value: []byte{byte('a' + i)}})
	}
	r := newFakeReader(msgs...)
	c := newTestConsumer(t, r)

	var mu sync.Mutex
	var seen []string
	c.RegisterHandler(funcHandler{topic: "events", fn: func(_ context.Context, data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(data))
		return nil
	}})

	require.NoError(t, c.Start())
	assert.Eventually(t, func() bool { return len(r.commits()) == 5 }, 2*time.Second, 5*time.Millisecond)
	stopConsumer(t, c)

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, r.commits())
	assert.True(t, r.closed)
}

func TestConsumerDeadLettersAfterRetries(t *testing.T) {
	r := newFakeReader(kafka.Message{Offset: 7, Key: []byte("2024-06-03"), Value: []byte("bad")})
	c := newTestConsumer(t, r, WithConsumerDLQ("events.dlq"))
	dlq := &fakeDLQ{}
	c.dlq = dlq

	var mu sync.Mutex
	calls := 0
	c.RegisterHandler(funcHandler{topic: "events", fn: func(context.Context, []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("decode failed")
	}})

	require.NoError(t, c.Start())
	assert.Eventually(t, func() bool { return len(r.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stopConsumer(t, c)

	assert.Equal(t, 2, calls)
	written := dlq.written()
	require.Len(t, written, 1)
	assert.Equal(t, "events.dlq", written[0].Topic)
	assert.Equal(t, []byte("bad"), written[0].Value)

	headers := map[string]string{}
	for _, h := range written[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "events", headers["source_topic"])
	assert.Equal(t, "7", headers["source_offset"])
	assert.Equal(t, "decode failed", headers["error"])
}

func TestConsumerWithoutDLQLeavesFailureUncommitted(t *testing.T) {
	r := newFakeReader(kafka.Message{Offset: 1, Value: []byte("x")})
	c := newTestConsumer(t, r)

	done := make(chan struct{})
	var once sync.Once
	c.RegisterHandler(funcHandler{topic: "events", fn: func(context.Context, []byte) error {
		panic("boom")
	}})
	c.WithConsumerHook(afterHook{after: func(err error) {
		if err != nil {
			once.Do(func() { close(done) })
		}
	}})

	require.NoError(t, c.Start())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	// let the retry finish before stopping
	time.Sleep(50 * time.Millisecond)
	stopConsumer(t, c)

	assert.Empty(t, r.commits())
}

// afterHook reports AfterHandle errors.
type afterHook struct {
	NoopHook
	after func(error)
}

func (h afterHook) AfterHandle(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) {
	h.after(err)
}

func TestConsumerStartRequiresHandler(t *testing.T) {
	c := newTestConsumer(t, newFakeReader())
	assert.Error(t, c.Start())
	stopConsumer(t, c)
}

func TestNewConsumerValidates(t *testing.T) {
	_, err := NewConsumer()
	assert.Error(t, err)

	_, err = NewConsumer(WithConsumerBrokers([]string{"b:9092"}), WithConsumerFetch(100, 10), WithConsumerRegisterer(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestWorkerForIsStable(t *testing.T) {
	c := &Consumer{workers: make([]chan kafka.Message, 4)}
	for p := 0; p < 8; p++ {
		idx := c.workerFor("events", p)
		assert.Equal(t, idx, c.workerFor("events", p))
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 4)
	}
}

func TestHookChainRecoversPanics(t *testing.T) {
	chain := NewHookChain(TraceHook{}, nil, afterHook{after: func(error) { panic("after") }})
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("run-9")}}}

	ctx, _, _, err := chain.BeforeHandle(context.Background(), "events", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "run-9", TraceIDFromContext(ctx))
	assert.NotPanics(t, func() { chain.AfterHandle(ctx, "events", km, nil, nil) })
}

func TestNewProducerValidates(t *testing.T) {
	_, err := NewProducer(WithBrokers([]string{"b:9092"}), WithCompression("brotli"), WithProducerRegisterer(prometheus.NewRegistry()))
	assert.Error(t, err)

	_, err = NewProducer(WithBrokers([]string{"b:9092"}), WithRequiredAcks(2), WithProducerRegisterer(prometheus.NewRegistry()))
	assert.Error(t, err)

	p, err := NewProducer(WithBrokers([]string{"b:9092"}), WithCompression("none"), WithProducerRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	assert.NoError(t, p.PublishBatch(context.Background(), "t", nil))
}

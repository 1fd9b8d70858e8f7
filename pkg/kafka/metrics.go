package kafka

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// register adds c to reg, or returns the collector already registered
// under the same name so several clients can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	return &producerMetrics{
		messages: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantpipe_kafka_producer_messages_total",
			Help: "Messages published to Kafka by result.",
		}, []string{"topic", "result"})),
		bytes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantpipe_kafka_producer_bytes_total",
			Help: "Payload bytes published to Kafka.",
		}, []string{"topic"})),
		latency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quantpipe_kafka_producer_publish_seconds",
			Help:    "Time to write one batch.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})),
	}
}

func (m *producerMetrics) observe(topic string, bytes int64, count int, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messages.WithLabelValues(topic, result).Add(float64(count))
	if err == nil {
		m.bytes.WithLabelValues(topic).Add(float64(bytes))
	}
	m.latency.WithLabelValues(topic).Observe(seconds)
}

type consumerMetrics struct {
	handled *prometheus.CounterVec
	latency *prometheus.HistogramVec
	backlog *prometheus.GaugeVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	return &consumerMetrics{
		handled: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantpipe_kafka_consumer_messages_total",
			Help: "Messages handled by result: ok, dlq or failed.",
		}, []string{"topic", "result"})),
		latency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quantpipe_kafka_consumer_handle_seconds",
			Help:    "Handling time per message including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})),
		backlog: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quantpipe_kafka_consumer_backlog",
			Help: "Messages fetched and waiting for a worker.",
		}, []string{"worker"})),
	}
}

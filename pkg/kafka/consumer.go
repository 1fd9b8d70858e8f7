package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	applogger "QuantPipe/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// fetcher is the part of kafka.Reader the consumer uses.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type deadLetterWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads registered topics in one consumer group and hands each
// message to a worker. A (topic, partition) always maps to the same
// worker, so messages of one partition are handled in offset order.
type Consumer struct {
	cfg      *ConsumerConfig
	logger   *applogger.Logger
	metrics  *consumerMetrics
	hook     ConsumerHook
	handlers map[string]MessageHandler
	readers  map[string]fetcher
	dlq      deadLetterWriter

	// newReader is replaced in tests.
	newReader func(topic string) fetcher

	ctx       context.Context
	cancel    context.CancelFunc
	workers   []chan kafka.Message
	readerWg  sync.WaitGroup
	workerWg  sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  newConsumerMetrics(cfg.Registerer),
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]fetcher),
		ctx:      ctx,
		cancel:   cancel,
	}
	if c.logger == nil {
		c.logger = applogger.NewNop()
	}
	c.newReader = func(topic string) fetcher {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.GroupID,
			StartOffset: startOffset(cfg.AutoOffsetReset),
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
		})
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.Hash{}}
	}
	return c, nil
}

// WithConsumerHook sets the hook run around every handler call.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler registers a message handler for its topic. Handlers must
// be registered before Start.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.logger.Warn("kafka handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// Start opens one reader per registered topic and starts the workers. It
// returns immediately.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	c.startOnce.Do(func() {
		c.workers = make([]chan kafka.Message, c.cfg.WorkerCount)
		for i := range c.workers {
			c.workers[i] = make(chan kafka.Message, c.cfg.BufferSize)
			c.workerWg.Add(1)
			go c.work(i, c.workers[i])
		}

		for topic := range c.handlers {
			r := c.newReader(topic)
			c.readers[topic] = r
			c.readerWg.Add(1)
			go c.read(topic, r)
		}

		c.logger.Info("kafka consumer started",
			applogger.Int("topics", len(c.handlers)),
			applogger.Int("workers", c.cfg.WorkerCount),
			applogger.String("group", c.cfg.GroupID))
	})
	return nil
}

// Stop stops fetching, lets workers finish the message in hand and closes
// the readers. Uncommitted messages are redelivered on the next start.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		c.readerWg.Wait()
		for _, ch := range c.workers {
			close(ch)
		}

		done := make(chan struct{})
		go func() {
			c.workerWg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.logger.Warn("close kafka reader", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.logger.Warn("close kafka dlq writer", applogger.Error(cerr))
			}
		}
		c.logger.Info("kafka consumer stopped")
	})
	return err
}

func (c *Consumer) read(topic string, r fetcher) {
	defer c.readerWg.Done()
	for {
		km, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("kafka fetch failed", applogger.String("topic", topic), applogger.Error(err))
			if !sleepCtx(c.ctx, c.cfg.BackoffMax) {
				return
			}
			continue
		}
		km.Topic = topic

		idx := c.workerFor(topic, km.Partition)
		select {
		case c.workers[idx] <- km:
			c.metrics.backlog.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(c.workers[idx])))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) workerFor(topic string, partition int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int((h.Sum32() + uint32(partition)) % uint32(len(c.workers)))
}

func (c *Consumer) work(idx int, ch <-chan kafka.Message) {
	defer c.workerWg.Done()
	for km := range ch {
		c.metrics.backlog.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(ch)))
		if c.ctx.Err() != nil {
			continue
		}
		c.process(km)
	}
}

// process handles one message with retries. The offset is committed on
// success, or once the message reached the dead letter topic.
func (c *Consumer) process(km kafka.Message) {
	handler, ok := c.handlers[km.Topic]
	if !ok {
		return
	}
	start := time.Now()

	var err error
	attempts := 0
	for {
		attempts++
		err = c.handleOnce(handler, km)
		if err == nil || attempts > c.cfg.RetryMax {
			break
		}
		if !sleepCtx(c.ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)) {
			return
		}
	}
	c.metrics.latency.WithLabelValues(km.Topic).Observe(time.Since(start).Seconds())

	result := "ok"
	if err != nil {
		c.logger.Error("kafka message failed",
			applogger.String("topic", km.Topic),
			applogger.Int("partition", km.Partition),
			applogger.Int64("offset", km.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err))
		if !c.deadLetter(km, err) {
			c.metrics.handled.WithLabelValues(km.Topic, "failed").Inc()
			return
		}
		result = "dlq"
	}
	c.metrics.handled.WithLabelValues(km.Topic, result).Inc()
	c.commit(km)
}

// handleOnce runs the hooks and the handler. A handler panic is returned
// as an error.
func (c *Consumer) handleOnce(handler MessageHandler, km kafka.Message) (err error) {
	ctx, hm, data, err := c.hook.BeforeHandle(c.ctx, km.Topic, km, km.Value)
	if err != nil {
		c.hook.OnError(ctx, km.Topic, km, km.Value, err)
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		c.hook.AfterHandle(ctx, km.Topic, hm, data, err)
		if err != nil {
			c.hook.OnError(ctx, km.Topic, hm, data, err)
		}
	}()
	return handler.Handle(ctx, data)
}

func (c *Consumer) deadLetter(km kafka.Message, cause error) bool {
	if c.dlq == nil {
		return false
	}
	headers := append([]kafka.Header{
		{Key: "source_topic", Value: []byte(km.Topic)},
		{Key: "source_partition", Value: []byte(strconv.Itoa(km.Partition))},
		{Key: "source_offset", Value: []byte(strconv.FormatInt(km.Offset, 10))},
		{Key: "error", Value: []byte(cause.Error())},
	}, km.Headers...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     km.Key,
		Value:   km.Value,
		Time:    time.Now(),
		Headers: headers,
	}); err != nil {
		c.logger.Error("kafka dlq write failed", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(km kafka.Message) {
	r := c.readers[km.Topic]
	if r == nil {
		return
	}
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.logger.Error("kafka commit failed",
		applogger.String("topic", km.Topic),
		applogger.Int64("offset", km.Offset),
		applogger.Error(err))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffWithJitter doubles min per attempt up to max and takes off up to
// half as jitter.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt <= 30 {
		if d := min << uint(attempt-1); d > 0 && d < max {
			exp = d
		}
	}
	return exp - time.Duration(rand.Int63n(int64(exp)/2+1))
}

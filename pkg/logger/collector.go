package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Publisher ships a batch of aggregated entries to a topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	FlushInterval  time.Duration // periodic flush
	MaxEntries     int           // distinct entries held before an early flush
	MinLevel       string        // "warn" or "error", default error
	PublishTimeout time.Duration
	Topic          string
	Publisher      Publisher
}

// AggregatedLogEntry counts repeats of one message from one call site.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector aggregates entries and publishes them in batches from a
// single sender goroutine. Batches that find the sender busy are dropped.
type LogCollector struct {
	cfg      CollectionConfig
	minLevel zerolog.Level

	mu      sync.Mutex
	entries map[uint64]*AggregatedLogEntry
	closed  bool

	batches  chan []AggregatedLogEntry
	stop     chan struct{}
	tickDone chan struct{}
	sendDone chan struct{}
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:      *cfg,
		minLevel: zerolog.ErrorLevel,
		entries:  make(map[uint64]*AggregatedLogEntry),
		batches:  make(chan []AggregatedLogEntry, 4),
		stop:     make(chan struct{}),
		tickDone: make(chan struct{}),
		sendDone: make(chan struct{}),
	}
	if c.cfg.FlushInterval <= 0 {
		c.cfg.FlushInterval = 30 * time.Second
	}
	if c.cfg.MaxEntries <= 0 {
		c.cfg.MaxEntries = 100
	}
	if c.cfg.PublishTimeout <= 0 {
		c.cfg.PublishTimeout = 10 * time.Second
	}
	if lvl, err := zerolog.ParseLevel(c.cfg.MinLevel); err == nil && c.cfg.MinLevel != "" {
		c.minLevel = lvl
	}

	go c.tick()
	go c.send()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now().UTC()
	key := entryKey(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(c.entries) >= c.cfg.MaxEntries {
		c.flushLocked()
	}
}

// entryKey hashes the entry identity. Field keys are sorted so map order
// does not split counts.
func entryKey(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s", level, message, caller)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "\x00%s=%v", k, fields[k])
	}
	return h.Sum64()
}

func (c *LogCollector) takeLocked() []AggregatedLogEntry {
	if len(c.entries) == 0 {
		return nil
	}
	batch := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		batch = append(batch, *e)
	}
	c.entries = make(map[uint64]*AggregatedLogEntry)
	return batch
}

func (c *LogCollector) flushLocked() {
	batch := c.takeLocked()
	if batch == nil {
		return
	}
	select {
	case c.batches <- batch:
	default:
		fmt.Fprintf(os.Stderr, "log collector: dropped batch of %d entries\n", len(batch))
	}
}

func (c *LogCollector) tick() {
	defer close(c.tickDone)
	t := time.NewTicker(c.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

func (c *LogCollector) send() {
	defer close(c.sendDone)
	for batch := range c.batches {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
		// errors go to stderr; logging them here would feed the collector
		if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
			fmt.Fprintf(os.Stderr, "log collector: publish %d entries: %v\n", len(batch), err)
		}
		cancel()
	}
}

// Close flushes pending entries and waits for them to be published.
func (c *LogCollector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()
	<-c.tickDone

	// AddLog and tick are done, nothing else sends on batches
	c.mu.Lock()
	final := c.takeLocked()
	c.mu.Unlock()
	if final != nil {
		c.batches <- final
	}
	close(c.batches)
	<-c.sendDone
}

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *recordingPublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *recordingPublisher) entries() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, zerolog.InfoLevel).With(String("component", "test"))

	l.Debug("hidden")
	l.Info("stage finished",
		Int("rows", 3),
		Float64("sharpe", 1.5),
		Duration("elapsed_ms", 1500*time.Millisecond),
		Strings("symbols", []string{"AAPL", "MSFT"}),
		Error(errors.New("boom")),
	)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &got))
	assert.Equal(t, "stage finished", got["message"])
	assert.Equal(t, "test", got["component"])
	assert.Equal(t, float64(3), got["rows"])
	assert.Equal(t, 1.5, got["sharpe"])
	assert.Equal(t, float64(1500), got["elapsed_ms"])
	assert.Equal(t, "AAPL,MSFT", got["symbols"])
	assert.Equal(t, "boom", got["error"])
}

func TestCollectorSharedWithChildLoggers(t *testing.T) {
	root := NewNop()
	child := root.With(String("component", "runner"))

	pub := &recordingPublisher{}
	root.AddCollector(&CollectionConfig{
		FlushInterval: time.Hour,
		MaxEntries:    100,
		Topic:         "quantpipe.logs",
		Publisher:     pub,
	})

	for i := 0; i < 3; i++ {
		child.Error("store unavailable", String("stage", "features"))
	}
	child.Error("store unavailable", String("stage", "signals"))
	child.Warn("below error level")
	root.RemoveCollector()

	entries := pub.entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "quantpipe.logs", pub.topic)

	counts := map[string]int{}
	for _, e := range entries {
		assert.Equal(t, "error", e.Level)
		assert.Contains(t, e.Caller, "pkg/logger/logger_test.go")
		counts[e.Fields["stage"].(string)] = e.Count
	}
	assert.Equal(t, map[string]int{"features": 3, "signals": 1}, counts)

	// detached: nothing more is collected
	child.Error("after removal")
	assert.Len(t, pub.entries(), 2)
}

func TestCollectorMinLevelAndEarlyFlush(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{
		FlushInterval: time.Hour,
		MaxEntries:    2,
		MinLevel:      "warn",
		Publisher:     pub,
	})
	l := NewNop()
	l.hub.c.Store(c)

	l.Warn("first")
	l.Warn("second")
	assert.Eventually(t, func() bool { return len(pub.entries()) == 2 }, time.Second, 10*time.Millisecond)

	l.Info("ignored")
	l.Error("third")
	c.Close()
	assert.Len(t, pub.entries(), 3)

	// closed collectors drop new entries
	c.AddLog("error", "late", nil, "x")
	c.Close()
	assert.Len(t, pub.entries(), 3)
}

func TestEntryKeyIgnoresFieldOrder(t *testing.T) {
	a := entryKey("error", "m", map[string]interface{}{"a": 1, "b": "x"}, "c:1")
	b := entryKey("error", "m", map[string]interface{}{"b": "x", "a": 1}, "c:1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, entryKey("warn", "m", nil, "c:1"))
}

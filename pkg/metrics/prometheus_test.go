package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordStage("ingestion", "completed", 1.5)
	r.RecordStage("ingestion", "failed", 0.2)
	r.RecordSignals("enhanced_momentum_v1", "buy", 3)
	r.RecordAlert("quality_failed")
	r.RecordQualityScore(87.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageResults.WithLabelValues("ingestion", "completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.signalsEmitted.WithLabelValues("enhanced_momentum_v1", "buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alerts.WithLabelValues("quality_failed")))
	assert.Equal(t, 87.5, testutil.ToFloat64(r.qualityScore))

	n, err := testutil.GatherAndCount(reg, "quantpipe_stage_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

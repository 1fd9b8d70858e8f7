package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuantPipe/internal/domain/models"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/queue"
)

type stubRunner struct {
	mu   sync.Mutex
	reqs []models.RunRequest
	err  error
}

func (r *stubRunner) Run(_ context.Context, req models.RunRequest) ([]models.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil, r.err
}

type stubQueue struct {
	msgType string
	payload interface{}
	err     error
}

func (q *stubQueue) PublishMessage(_ context.Context, msgType string, payload interface{}) error {
	q.msgType, q.payload = msgType, payload
	return q.err
}

func TestInlineDispatcher(t *testing.T) {
	r := &stubRunner{}
	d := NewInlineDispatcher(context.Background(), r, logger.NewNop())

	date := time.Date(2024, 3, 8, 17, 30, 0, 0, time.UTC)
	id, err := d.Dispatch(context.Background(), models.RunRequest{Date: date, Trigger: "api"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	d.Wait()

	require.Len(t, r.reqs, 1)
	assert.Equal(t, id, r.reqs[0].RunID)
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), r.reqs[0].Date)
}

func TestQueueDispatcherAndJob(t *testing.T) {
	q := &stubQueue{}
	d := NewQueueDispatcher(q)
	req := models.RunRequest{
		Date:    time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
		Stages:  []models.Stage{models.StageSignals},
		Trigger: "schedule",
	}
	id, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, JobTypePipelineRun, q.msgType)

	// the queue stores payloads as JSON; the job sees them decoded
	raw, err := json.Marshal(q.payload)
	require.NoError(t, err)
	r := &stubRunner{}
	job := NewPipelineRunJob(r, logger.NewNop())
	require.NoError(t, job.Handle(context.Background(), json.RawMessage(raw)))

	require.Len(t, r.reqs, 1)
	assert.Equal(t, id, r.reqs[0].RunID)
	assert.Equal(t, []models.Stage{models.StageSignals}, r.reqs[0].Stages)
	assert.Equal(t, "schedule", r.reqs[0].Trigger)
}

func TestPipelineRunJobPropagatesFailure(t *testing.T) {
	r := &stubRunner{err: models.ErrStoreUnavailable}
	job := NewPipelineRunJob(r, logger.NewNop())
	err := job.Handle(context.Background(), json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, models.ErrStoreUnavailable))
	assert.False(t, queue.IsPermanent(err))
	assert.Equal(t, "queue", r.reqs[0].Trigger)
}

func TestPipelineRunJobPermanentFailures(t *testing.T) {
	job := NewPipelineRunJob(&stubRunner{}, logger.NewNop())
	err := job.Handle(context.Background(), json.RawMessage(`{"date":`))
	assert.True(t, queue.IsPermanent(err))

	job = NewPipelineRunJob(&stubRunner{err: models.ErrInvalidParameters}, logger.NewNop())
	err = job.Handle(context.Background(), json.RawMessage(`{}`))
	assert.True(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
}

func TestQueueDispatcherEnqueueError(t *testing.T) {
	d := NewQueueDispatcher(&stubQueue{err: errors.New("queue not running")})
	_, err := d.Dispatch(context.Background(), models.RunRequest{})
	require.Error(t, err)
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"QuantPipe/internal/domain/models"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/queue"
	"QuantPipe/pkg/util"
)

// JobTypePipelineRun is the queue message type carrying a RunRequest.
const JobTypePipelineRun = "pipeline.run"

// PipelineRunner is the part of Runner the dispatchers need.
type PipelineRunner interface {
	Run(ctx context.Context, req models.RunRequest) ([]models.PipelineRun, error)
}

// Dispatcher hands a run request to whatever executes it and returns the
// run id without waiting for completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.RunRequest) (string, error)
}

func prepare(req models.RunRequest) models.RunRequest {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if !req.Date.IsZero() {
		req.Date = util.Day(req.Date)
	}
	return req
}

// InlineDispatcher runs the pipeline in a goroutine of this process.
type InlineDispatcher struct {
	runner PipelineRunner
	l      *logger.Logger
	base   context.Context
	wg     sync.WaitGroup
}

// NewInlineDispatcher runs dispatched requests under base, so they outlive
// the request that triggered them.
func NewInlineDispatcher(base context.Context, runner PipelineRunner, l *logger.Logger) *InlineDispatcher {
	return &InlineDispatcher{runner: runner, l: l, base: base}
}

func (d *InlineDispatcher) Dispatch(_ context.Context, req models.RunRequest) (string, error) {
	req = prepare(req)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.runner.Run(d.base, req); err != nil {
			d.l.Error("dispatched run failed", logger.String("run_id", req.RunID), logger.Error(err))
		}
	}()
	return req.RunID, nil
}

// Wait blocks until every dispatched run returned.
func (d *InlineDispatcher) Wait() { d.wg.Wait() }

// QueueDispatcher enqueues runs on the job queue; a worker executes them
// through PipelineRunJob.
type QueueDispatcher struct {
	q queue.QueueService
}

func NewQueueDispatcher(q queue.QueueService) *QueueDispatcher {
	return &QueueDispatcher{q: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, req models.RunRequest) (string, error) {
	req = prepare(req)
	if err := d.q.PublishMessage(ctx, JobTypePipelineRun, req); err != nil {
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	return req.RunID, nil
}

// PipelineRunJob executes queued run requests. A returned error makes the
// queue retry the message and eventually dead-letter it.
type PipelineRunJob struct {
	runner PipelineRunner
	l      *logger.Logger
}

func NewPipelineRunJob(runner PipelineRunner, l *logger.Logger) *PipelineRunJob {
	return &PipelineRunJob{runner: runner, l: l}
}

func (j *PipelineRunJob) Name() string { return "pipeline_run" }
func (j *PipelineRunJob) Type() string { return JobTypePipelineRun }

func (j *PipelineRunJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.ParsePayload[models.RunRequest](payload)
	if err != nil {
		return queue.Permanent(fmt.Errorf("pipeline run payload: %w", err))
	}
	if req.Trigger == "" {
		req.Trigger = "queue"
	}
	_, err = j.runner.Run(ctx, *req)
	if errors.Is(err, models.ErrInvalidParameters) {
		return queue.Permanent(err)
	}
	return err
}

var _ queue.Job = (*PipelineRunJob)(nil)

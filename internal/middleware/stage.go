package middleware

import (
	"context"
	"fmt"
	"time"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

// StageFunc runs one attempt of a stage for a logical date.
type StageFunc func(ctx context.Context, date time.Time) (models.StageResult, error)

// Middleware wraps a StageFunc.
type Middleware func(StageFunc) StageFunc

// Chain applies mws so the first one is outermost.
func Chain(fn StageFunc, mws ...Middleware) StageFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		fn = mws[i](fn)
	}
	return fn
}

// Logging logs start and outcome of every attempt.
func Logging(l *logger.Logger, stage models.Stage) Middleware {
	return func(next StageFunc) StageFunc {
		return func(ctx context.Context, date time.Time) (models.StageResult, error) {
			start := time.Now()
			l.Info("stage started", logger.String("stage", string(stage)), logger.String("date", util.FormatDate(date)))
			res, err := next(ctx, date)
			if err != nil {
				l.Error("stage attempt failed",
					logger.String("stage", string(stage)),
					logger.String("date", util.FormatDate(date)),
					logger.String("kind", models.ErrorKind(err)),
					logger.Duration("elapsed", time.Since(start)),
					logger.Error(err))
				return res, err
			}
			l.Info("stage completed",
				logger.String("stage", string(stage)),
				logger.String("date", util.FormatDate(date)),
				logger.Duration("elapsed", time.Since(start)))
			return res, nil
		}
	}
}

// Timing records the duration and status of every attempt.
func Timing(m domrepo.Metrics, stage models.Stage) Middleware {
	return func(next StageFunc) StageFunc {
		return func(ctx context.Context, date time.Time) (models.StageResult, error) {
			start := time.Now()
			res, err := next(ctx, date)
			status := string(models.StatusCompleted)
			if err != nil {
				status = string(models.StatusFailed)
			}
			m.RecordStage(string(stage), status, time.Since(start).Seconds())
			return res, err
		}
	}
}

// RetryPolicy bounds Retry.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Retryable decides whether an error deserves another attempt.
	Retryable func(error) bool
	// OnAttempt observes each finished attempt, starting at 1.
	OnAttempt func(attempt int, err error)
	// Sleep is replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Retry re-runs the stage with exponential backoff while the error is
// retryable and attempts remain.
func Retry(p RetryPolicy) Middleware {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = models.Retryable
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return func(next StageFunc) StageFunc {
		return func(ctx context.Context, date time.Time) (models.StageResult, error) {
			backoff := p.BackoffBase
			for attempt := 1; ; attempt++ {
				res, err := next(ctx, date)
				if p.OnAttempt != nil {
					p.OnAttempt(attempt, err)
				}
				if err == nil || attempt >= p.MaxAttempts || !p.Retryable(err) {
					if err != nil && attempt > 1 {
						err = fmt.Errorf("after %d attempts: %w", attempt, err)
					}
					return res, err
				}
				if serr := p.Sleep(ctx, backoff); serr != nil {
					return res, err
				}
				if backoff *= 2; p.BackoffMax > 0 && backoff > p.BackoffMax {
					backoff = p.BackoffMax
				}
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package scheduler fires the daily pipeline on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"QuantPipe/internal/domain/models"
	"QuantPipe/internal/usecase"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

// DefaultSchedule is 18:00 on weekdays, after the US close. The first
// field is seconds.
const DefaultSchedule = "0 0 18 * * 1-5"

// Scheduler dispatches one run for the most recent trading day on every
// firing of its schedule.
type Scheduler struct {
	cron       *cron.Cron
	entry      cron.EntryID
	schedule   string
	loc        *time.Location
	dispatcher usecase.Dispatcher
	timeout    time.Duration
	l          *logger.Logger
	now        func() time.Time
}

// New parses schedule in timezone. An empty schedule means DefaultSchedule
// and an empty timezone means America/New_York.
func New(schedule, timezone string, d usecase.Dispatcher, l *logger.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if timezone == "" {
		timezone = "America/New_York"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", timezone, err)
	}
	if l == nil {
		l = logger.NewNop()
	}
	l = l.With(logger.String("component", "scheduler"))

	s := &Scheduler{
		schedule:   schedule,
		loc:        loc,
		dispatcher: d,
		timeout:    30 * time.Second,
		l:          l,
		now:        time.Now,
	}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{l})),
	)
	s.entry, err = s.cron.AddFunc(schedule, s.fire)
	if err != nil {
		return nil, fmt.Errorf("scheduler schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.l.Info("scheduler started",
		logger.String("schedule", s.schedule),
		logger.String("timezone", s.loc.String()),
		logger.Time("next", s.Next()),
	)
}

// Stop stops firing and waits for a firing in progress, or until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.l.Info("scheduler stopped")
}

// Next returns the next firing time, or zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// NextAfter returns the firing that follows t.
func (s *Scheduler) NextAfter(t time.Time) time.Time {
	return s.cron.Entry(s.entry).Schedule.Next(t.In(s.loc))
}

// RunNow dispatches immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (string, error) {
	return s.dispatch(ctx)
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.dispatch(ctx); err != nil {
		s.l.Error("scheduled dispatch failed", logger.Error(err))
	}
}

func (s *Scheduler) dispatch(ctx context.Context) (string, error) {
	date := util.MarketDay(s.now(), s.loc)
	id, err := s.dispatcher.Dispatch(ctx, models.RunRequest{Date: date, Trigger: "schedule"})
	if err != nil {
		return "", fmt.Errorf("dispatch run for %s: %w", util.FormatDate(date), err)
	}
	s.l.Info("pipeline run dispatched",
		logger.String("run_id", id),
		logger.String("date", util.FormatDate(date)),
	)
	return id, nil
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, logger.Any(key, kv[i+1]))
	}
	return fields
}

package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	"QuantPipe/internal/scheduler"
	"QuantPipe/internal/usecase"
	"QuantPipe/pkg/config"
	xhttp "QuantPipe/pkg/http"
	pkgkafka "QuantPipe/pkg/kafka"
	applogger "QuantPipe/pkg/logger"
	"QuantPipe/pkg/queue"
)

// Components are the wired parts the App starts and stops. Queue,
// Scheduler, Handler and Consumer may be nil when disabled.
type Components struct {
	Store      domrepo.Store
	Runner     usecase.PipelineRunner
	Dispatcher usecase.Dispatcher
	Inline     *usecase.InlineDispatcher
	Queue      *queue.RedisQueue
	Scheduler  *scheduler.Scheduler
	Handler    xhttp.Handler
	Consumer   *pkgkafka.Consumer
	Models     []models.Model
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	c          Components
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	return &App{cfg: cfg, l: l, c: c}
}

// Logger returns the application logger.
func (a *App) Logger() *applogger.Logger { return a.l }

func (a *App) registerModels(ctx context.Context) error {
	if err := usecase.RegisterModels(ctx, a.c.Store, a.c.Models, a.l); err != nil {
		return fmt.Errorf("register models: %w", err)
	}
	return nil
}

// RunOnce registers models and executes one run in the foreground,
// bypassing the scheduler and the queue.
func (a *App) RunOnce(ctx context.Context, req models.RunRequest) ([]models.PipelineRun, error) {
	if err := a.registerModels(ctx); err != nil {
		return nil, err
	}
	if req.Trigger == "" {
		req.Trigger = "cli"
	}
	return a.c.Runner.Run(ctx, req)
}

// Run starts every enabled component and blocks until ctx is cancelled,
// an interrupt arrives or the HTTP listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.registerModels(ctx); err != nil {
		return err
	}

	if a.c.Queue != nil {
		if err := a.c.Queue.Start(); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
	}

	if a.c.Consumer != nil {
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("start alert consumer: %w", err)
		}
		a.l.Info("alert consumer started", applogger.String("topic", a.cfg.Kafka.Topics.Events))
	}

	if a.c.Scheduler != nil {
		a.c.Scheduler.Start()
	}

	var serverErr <-chan error
	if a.cfg.Server.Enabled {
		a.httpServer = xhttp.NewServer(a.c.Handler,
			xhttp.WithPort(a.cfg.Server.Port),
			xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
			xhttp.WithLogger(a.l.With(applogger.String("component", "http"))),
		)
		if err := a.httpServer.Start(); err != nil {
			a.l.Error("http server start error", applogger.Error(err))
			return err
		}
		serverErr = a.httpServer.Err()
	}

	a.l.Info("quantpipe started",
		applogger.String("storage", a.cfg.Storage.Driver),
		applogger.Int("symbols", len(a.cfg.Universe.Symbols)),
		applogger.Bool("queue", a.c.Queue != nil),
		applogger.Bool("kafka", a.cfg.Kafka.Enabled),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.l.Info("shutdown signal received")
	case runErr = <-serverErr:
	}

	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown stops intake first, then waits for work already in flight.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.l.Info("shutting down...")
	var errs []error

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if a.c.Scheduler != nil {
		a.c.Scheduler.Stop(ctx)
	}

	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.c.Queue != nil {
		if err := a.c.Queue.Stop(ctx); err != nil {
			a.l.Warn("queue stop error", applogger.Error(err))
		}
	}

	if a.c.Inline != nil {
		if !waitTimeout(ctx, a.c.Inline.Wait) {
			a.l.Warn("in-flight pipeline runs still running at shutdown")
		}
	}

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}

// waitTimeout reports whether wait returned before ctx ended.
func waitTimeout(ctx context.Context, wait func()) bool {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// healthTimeout bounds the readiness probe main uses at startup.
const healthTimeout = 5 * time.Second

// CheckStore pings the store once.
func (a *App) CheckStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return a.c.Store.Health(ctx)
}

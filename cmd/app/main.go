package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"QuantPipe/internal/di"
	"QuantPipe/internal/domain/models"
	"QuantPipe/pkg/config"
	applogger "QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	once := flag.Bool("once", false, "run the pipeline once in the foreground and exit")
	date := flag.String("date", "", "logical date for -once (YYYY-MM-DD), default most recent trading day")
	stages := flag.String("stages", "", "comma separated stages for -once, default all")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	req, err := buildRequest(*date, *stages)
	if err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, cleanup, err := di.InitializeApp(ctx, cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}
	defer cleanup()
	l := app.Logger()

	if err := app.CheckStore(ctx); err != nil {
		l.Error("store health check failed", applogger.Error(err))
		cleanup()
		os.Exit(1)
	}

	if *once {
		runs, err := app.RunOnce(ctx, req)
		for _, r := range runs {
			l.Info("stage finished",
				applogger.String("stage", string(r.Stage)),
				applogger.String("status", string(r.Status)),
				applogger.Int("attempts", r.Attempts),
			)
		}
		if err != nil {
			l.Error("pipeline run failed", applogger.Error(err))
			cleanup()
			os.Exit(1)
		}
		return
	}

	if err := app.Run(ctx); err != nil {
		l.Error("app error", applogger.Error(err))
		cleanup()
		os.Exit(1)
	}
}

func buildRequest(date, stages string) (models.RunRequest, error) {
	var req models.RunRequest
	if date != "" {
		d, ok := util.ParseDate(date)
		if !ok {
			return req, fmt.Errorf("-date %q is not YYYY-MM-DD", date)
		}
		req.Date = d
	}
	for _, s := range util.SplitCSV(stages) {
		st, ok := models.ParseStage(s)
		if !ok {
			return req, fmt.Errorf("-stages: unknown stage %q", s)
		}
		req.Stages = append(req.Stages, st)
	}
	return req, nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/api"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/audit"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/capture"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/config"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/database"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/dispatch"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/kafka"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/logger"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/matcher"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/pipeline"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/runner"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/s3"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/services/detection"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/services/scene"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/services/telegram"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/tracker"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/watchdog"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return err
	}
	log.Infow("init", "profile", cfg.Profile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	db, err := database.New(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()
	if err := db.Init(ctx); err != nil {
		return err
	}

	minioClient, err := s3.NewMinioClient(cfg.Minio)
	if err != nil {
		return err
	}

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, producer.Close()) }()

	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topics.Commands, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, consumer.Close()) }()

	collab := dispatch.Collaborators{
		Scene:     scene.NewAnalyzer(minioClient, producer, nil),
		Snapshots: minioClient,
		Events:    producer,
	}
	if cfg.Telegram.Enabled() {
		collab.Notifier = telegram.NewClient(cfg.Telegram)
	}
	switch cfg.Audit.Sink {
	case config.AuditSinkCSV:
		csvWriter, csvErr := audit.NewCSVWriter(cfg.Audit.CSVPath, nil)
		if csvErr != nil {
			return csvErr
		}
		defer func() { err = multierr.Append(err, csvWriter.Close()) }()
		collab.Audit = csvWriter
	default:
		collab.Audit = db
	}

	pool := dispatch.NewPool(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, cfg.Dispatch.TaskTimeout, log.Named("dispatch"), m)
	defer pool.Close()

	scheduler, err := dispatch.NewScheduler(log)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() { err = multierr.Append(err, scheduler.Shutdown()) }()

	hub := api.NewHub(log)
	go hub.Run(ctx)

	deps := runner.Deps{
		Store: db,
		Sources: func(ctx context.Context, videoSource string) (capture.Source, error) {
			src, err := minioClient.FrameSource(ctx, videoSource)
			if err != nil {
				return nil, err
			}
			return src, nil
		},
		Persons:       detection.NewClient("persons", cfg.Detection.Persons, log),
		Heartbeats:    producer,
		Results:       hub,
		Pipeline:      pipeline.New(cfg.Pipeline, matcher.New(cfg.Matcher), tracker.New(cfg.Tracker), log, m),
		Pool:          pool,
		Scheduler:     scheduler,
		Collaborators: collab,
		Logger:        log,
		Metrics:       m,
	}
	if cfg.Detection.Equipment.Endpoint != "" {
		deps.Equipment = detection.NewClient("equipment", cfg.Detection.Equipment, log)
	}

	r := runner.New(runner.Options{
		Heartbeat:       cfg.Heartbeat,
		CaptureInterval: cfg.Capture.Interval,
		Dispatch:        cfg.Dispatch,
	}, deps)
	// sessions stop before the pool drains so their last tasks are queued
	defer r.Shutdown()

	consumer.StartListening(ctx)
	go r.ListenAndRun(ctx, consumer.Messages())
	go r.ProcessStopEvent(ctx)
	go watchdog.New(db, r, cfg.Watchdog, 3*cfg.Heartbeat, nil, log).Start(ctx)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewHandlers(r, db, hub, m.Handler(), log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting api server", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serverErr:
		log.Errorw("api server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return multierr.Append(err, server.Shutdown(shutdownCtx))
}

var (
	_ runner.Store         = (*database.Database)(nil)
	_ dispatch.AuditLogger = (*audit.CSVWriter)(nil)
	_ api.EventLister      = (*database.Database)(nil)
)

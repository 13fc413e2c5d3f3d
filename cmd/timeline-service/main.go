// main package for the timeline-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-timeline/internal/config"
	"github.com/book-expert/voice-timeline/internal/core"
	"github.com/book-expert/voice-timeline/internal/importer"
	"github.com/book-expert/voice-timeline/internal/objectstore"
	"github.com/book-expert/voice-timeline/internal/worker"
	"github.com/nats-io/nats.go"
)

const (
	bootstrapLogFile = "timeline-service-bootstrap.log"
	serviceLogFile   = "timeline-service.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}
	defer bootstrapLog.Close()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ensureErr := cfg.EnsureDirectories()
	if ensureErr != nil {
		bootstrapLog.Error("Failed to create directories: %v", ensureErr)

		return ensureErr
	}

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, finalLog)
}

// serve connects to NATS and runs the worker until SIGINT or SIGTERM.
func serve(cfg *config.Config, log *logger.Logger) error {
	natsURL := cfg.NATS.URL
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	natsConnection, err := nats.Connect(natsURL, nats.Name("timeline-service"))
	if err != nil {
		log.Error("Failed to connect to NATS at %s: %v", natsURL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	waveStore, err := objectstore.New(jetstreamContext, cfg.NATS.WaveBucket)
	if err != nil {
		return err
	}

	timelineStore, err := objectstore.New(jetstreamContext, cfg.NATS.TimelineBucket)
	if err != nil {
		return err
	}

	builder, err := importer.NewBuilder(core.BuildOptions{
		ProcessingHeader:     cfg.Timeline.ProcessingHeader,
		IndexIntervalSeconds: cfg.Timeline.IndexIntervalSeconds,
		FramePeriodSeconds:   cfg.Import.FramePeriodSeconds,
	}, cfg.Timeline.CacheDir, log)
	if err != nil {
		return err
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.ImportSubject,
		cfg.NATS.RangeSubject,
		worker.Stores{Waves: waveStore, Timelines: timelineStore},
		builder,
		cfg.Timeline.CacheDir,
		log,
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.System("Timeline-Service successfully initialized. Imports on %s, ranges on %s",
		cfg.NATS.ImportSubject, cfg.NATS.RangeSubject)

	runErr := natsWorker.Run(ctx)
	if runErr != nil {
		log.Error("Worker stopped with error: %v", runErr)

		return runErr
	}

	log.System("Timeline-Service stopped.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

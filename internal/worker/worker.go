// Package worker provides a NATS worker that builds timelines and serves
// datagram ranges.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-timeline/internal/core"
	"github.com/book-expert/voice-timeline/internal/fsutil"
	"github.com/book-expert/voice-timeline/internal/timeline"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	handleMessageTimeout = 30 * time.Second
	timelineExtension    = ".mry"
	cacheFilePermissions = 0o600
)

var (
	// ErrWaveKeyEmpty indicates an import request without a recording.
	ErrWaveKeyEmpty = errors.New("wave key cannot be empty")
	// ErrTimelineKeyEmpty indicates a range request without a timeline.
	ErrTimelineKeyEmpty = errors.New("timeline key cannot be empty")
	// ErrSampleRate indicates a range request with a non-positive sample rate.
	ErrSampleRate = errors.New("sample rate must be positive")
	// ErrTimeRange indicates a range request with a negative target or span.
	ErrTimeRange = errors.New("target time and span must be non-negative")
)

// Stores groups the buckets the worker reads from and writes to.
type Stores struct {
	Waves     core.ObjectStore
	Timelines core.ObjectStore
}

// NatsWorker answers wave import and datagram range requests on two NATS subjects.
type NatsWorker struct {
	natsConnection *nats.Conn
	importSubject  string
	rangeSubject   string
	stores         Stores
	builder        core.TimelineBuilder
	cacheDir       string
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. Timelines fetched for
// range requests are kept in cacheDir.
func NewNatsWorker(
	natsConnection *nats.Conn,
	importSubject, rangeSubject string,
	stores Stores,
	builder core.TimelineBuilder,
	cacheDir string,
	log *logger.Logger,
) (*NatsWorker, error) {
	err := fsutil.EnsureDir(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare timeline cache: %w", err)
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		importSubject:  importSubject,
		rangeSubject:   rangeSubject,
		stores:         stores,
		builder:        builder,
		cacheDir:       cacheDir,
		log:            log,
	}, nil
}

// Run starts the worker and blocks until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	importSub, err := w.natsConnection.Subscribe(w.importSubject, w.handleImport)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.importSubject, err)
	}

	rangeSub, err := w.natsConnection.Subscribe(w.rangeSubject, w.handleRange)
	if err != nil {
		_ = importSub.Drain()

		return fmt.Errorf("failed to subscribe to subject %s: %w", w.rangeSubject, err)
	}

	w.log.Info("Listening for imports on %s and ranges on %s", w.importSubject, w.rangeSubject)

	<-ctx.Done()

	drainErr := errors.Join(importSub.Drain(), rangeSub.Drain())
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscriptions: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleImport(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event core.WaveImportRequested

	err := sonic.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal import request: %v", err)

		return
	}

	reply := core.TimelineCreated{Header: event.Header}

	result, key, importErr := w.processImport(ctx, &event)
	if importErr != nil {
		w.log.Error("Failed to import wave for workflow %s: %v", event.Header.WorkflowID, importErr)
		reply.Error = importErr.Error()
	} else {
		reply.TimelineKey = key
		reply.SampleRate = result.SampleRate
		reply.NumDatagrams = result.NumDatagrams
		reply.TotalDuration = result.TotalDuration
		w.log.Info("Timeline %s built from %s: %d datagrams", key, event.WaveKey, result.NumDatagrams)
	}

	w.respond(msg, event.Header.WorkflowID, reply)
}

// processImport downloads the recording, builds its timeline and uploads it.
func (w *NatsWorker) processImport(ctx context.Context, event *core.WaveImportRequested) (core.BuildResult, string, error) {
	if event.WaveKey == "" {
		return core.BuildResult{}, "", ErrWaveKeyEmpty
	}

	waveData, err := w.stores.Waves.Download(ctx, event.WaveKey)
	if err != nil {
		return core.BuildResult{}, "", fmt.Errorf("failed to download wave for key '%s': %w", event.WaveKey, err)
	}

	result, err := w.builder.Build(ctx, waveData, w.builder.GetOptions())
	if err != nil {
		return core.BuildResult{}, "", fmt.Errorf("failed to build timeline from '%s': %w", event.WaveKey, err)
	}

	key := event.TimelineKey
	if key == "" {
		key = uuid.NewString() + timelineExtension
	}

	err = w.stores.Timelines.Upload(ctx, key, result.Data)
	if err != nil {
		return core.BuildResult{}, "", fmt.Errorf("failed to upload timeline for key '%s': %w", key, err)
	}

	return result, key, nil
}

func (w *NatsWorker) handleRange(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event core.DatagramRangeRequested

	err := sonic.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal range request: %v", err)

		return
	}

	reply := core.DatagramRange{
		Header:      event.Header,
		TimelineKey: event.TimelineKey,
		SampleRate:  event.SampleRate,
	}

	datagrams, rangeErr := w.processRange(ctx, &event)
	if rangeErr != nil {
		w.log.Error("Failed to serve range for workflow %s: %v", event.Header.WorkflowID, rangeErr)
		reply.Error = rangeErr.Error()
	}

	reply.Datagrams = make([]core.DatagramPayload, len(datagrams))
	for i, d := range datagrams {
		reply.Datagrams[i] = core.DatagramPayload{Duration: d.Duration, Data: d.Data}
	}

	w.respond(msg, event.Header.WorkflowID, reply)
}

func (w *NatsWorker) processRange(ctx context.Context, event *core.DatagramRangeRequested) ([]timeline.Datagram, error) {
	switch {
	case event.TimelineKey == "":
		return nil, ErrTimelineKeyEmpty
	case event.SampleRate <= 0:
		return nil, fmt.Errorf("%w: got %d", ErrSampleRate, event.SampleRate)
	case event.TargetTime < 0 || event.TimeSpan < 0:
		return nil, fmt.Errorf("%w: target %d, span %d", ErrTimeRange, event.TargetTime, event.TimeSpan)
	}

	path, err := w.cachedTimeline(ctx, event.TimelineKey)
	if err != nil {
		return nil, err
	}

	tl, err := timeline.Open(path)
	if err != nil {
		return nil, err
	}
	defer tl.Close()

	datagrams, _, err := tl.Datagrams(event.TargetTime, event.TimeSpan, event.SampleRate)
	if err != nil {
		return nil, err
	}

	return datagrams, nil
}

// cachedTimeline returns the local copy of the timeline stored under key,
// fetching it on first use.
func (w *NatsWorker) cachedTimeline(ctx context.Context, key string) (string, error) {
	name, err := fsutil.SafeName(key)
	if err != nil {
		return "", fmt.Errorf("invalid timeline key: %w", err)
	}

	path := filepath.Join(w.cacheDir, name)

	info, statErr := os.Stat(path)
	if statErr == nil && info.Mode().IsRegular() {
		return path, nil
	}

	data, err := w.stores.Timelines.Download(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to download timeline for key '%s': %w", key, err)
	}

	partial, err := os.CreateTemp(w.cacheDir, "fetch-*"+timelineExtension)
	if err != nil {
		return "", fmt.Errorf("failed to cache timeline '%s': %w", key, err)
	}

	_, writeErr := partial.Write(data)
	closeErr := partial.Close()

	if writeErr == nil {
		writeErr = closeErr
	}

	if writeErr == nil {
		writeErr = os.Chmod(partial.Name(), cacheFilePermissions)
	}

	if writeErr == nil {
		writeErr = os.Rename(partial.Name(), path)
	}

	if writeErr != nil {
		_ = os.Remove(partial.Name())

		return "", fmt.Errorf("failed to cache timeline '%s': %w", key, writeErr)
	}

	w.log.Info("Cached timeline %s (%s)", key, fsutil.FormatFileSize(int64(len(data))))

	return path, nil
}

func (w *NatsWorker) respond(msg *nats.Msg, workflowID string, reply any) {
	replyData, err := sonic.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply for workflow %s: %v", workflowID, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", workflowID, err)
	}
}

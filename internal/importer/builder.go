package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-timeline/internal/core"
	"github.com/book-expert/voice-timeline/internal/timeline"
)

const (
	tempTimelinePattern = "timeline-*.mry"

	logFmtBuilt       = "Built timeline from %s: %d datagrams, %d samples at %d Hz"
	logFmtTempCleanup = "Failed to remove temp timeline '%s': %v"
)

// ErrNoWaves indicates an import without input files.
var ErrNoWaves = errors.New("no wave files given")

// Summary describes the timelines written by ImportWaves.
type Summary struct {
	Files         int
	SampleRate    int
	NumDatagrams  int64
	TotalDuration int64
}

// Builder implements core.TimelineBuilder for in-memory WAV recordings.
type Builder struct {
	options core.BuildOptions
	tempDir string
	log     *logger.Logger
}

// NewBuilder returns a builder using opts as defaults and tempDir for scratch files.
func NewBuilder(opts core.BuildOptions, tempDir string, log *logger.Logger) (*Builder, error) {
	if opts.IndexIntervalSeconds <= 0 {
		return nil, fmt.Errorf("%w: %v seconds", timeline.ErrInvalidIndexInterval, opts.IndexIntervalSeconds)
	}

	if opts.FramePeriodSeconds <= 0 {
		return nil, fmt.Errorf("%w: %v seconds", ErrInvalidFramePeriod, opts.FramePeriodSeconds)
	}

	return &Builder{options: opts, tempDir: tempDir, log: log}, nil
}

// GetOptions returns the default build options.
func (b *Builder) GetOptions() core.BuildOptions {
	return b.options
}

// Build decodes wave and returns the bytes of a finalized waveform timeline at
// the recording's sample rate.
func (b *Builder) Build(ctx context.Context, wave []byte, opts core.BuildOptions) (core.BuildResult, error) {
	decoded, err := DecodeWave(bytes.NewReader(wave), "upload")
	if err != nil {
		return core.BuildResult{}, err
	}

	tempFile, err := os.CreateTemp(b.tempDir, tempTimelinePattern)
	if err != nil {
		return core.BuildResult{}, fmt.Errorf("failed to create temp file for timeline: %w", err)
	}

	path := tempFile.Name()
	_ = tempFile.Close()

	defer func() {
		removeErr := os.Remove(path)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) && b.log != nil {
			b.log.Warn(logFmtTempCleanup, path, removeErr)
		}
	}()

	result, err := b.writeTimeline(ctx, path, decoded, opts)
	if err != nil {
		return core.BuildResult{}, err
	}

	result.Data, err = os.ReadFile(path)
	if err != nil {
		return core.BuildResult{}, fmt.Errorf("failed to read built timeline: %w", err)
	}

	return result, nil
}

func (b *Builder) writeTimeline(
	ctx context.Context,
	path string,
	wave *Wave,
	opts core.BuildOptions,
) (core.BuildResult, error) {
	writer, err := timeline.Create(path, opts.ProcessingHeader, wave.Format.SampleRate, opts.IndexIntervalSeconds, b.log)
	if err != nil {
		return core.BuildResult{}, err
	}

	importer, err := NewWaveImporter(writer, opts.FramePeriodSeconds, b.log)
	if err != nil {
		_ = writer.Close()

		return core.BuildResult{}, err
	}

	_, err = importer.Import(wave)
	if err == nil {
		err = ctx.Err()
	}

	closeErr := writer.Close()
	if err != nil {
		return core.BuildResult{}, err
	}

	if closeErr != nil {
		return core.BuildResult{}, closeErr
	}

	if b.log != nil {
		b.log.Info(logFmtBuilt, wave.Name, writer.NumDatagrams(), writer.TotalDuration(), writer.SampleRate())
	}

	return core.BuildResult{
		SampleRate:    writer.SampleRate(),
		NumDatagrams:  writer.NumDatagrams(),
		TotalDuration: writer.TotalDuration(),
	}, nil
}

// ImportWaves writes the recordings at wavePaths, in order, into a waveform
// timeline at wavePath and an aligned basename timeline at basenamePath. The
// first recording sets the sample rate; every other one must match it. An empty
// basenamePath skips the basename timeline.
func ImportWaves(
	ctx context.Context,
	wavePaths []string,
	wavePath, basenamePath string,
	opts core.BuildOptions,
	log *logger.Logger,
) (Summary, error) {
	return importWaves(ctx, wavePaths, "", wavePath, basenamePath, opts, log)
}

// ImportWavesPitchSynchronous works like ImportWaves but cuts every recording
// at its pitchmarks instead of in fixed frames. The marks of a recording are
// read from <basename>.pm under pitchmarkDir.
func ImportWavesPitchSynchronous(
	ctx context.Context,
	wavePaths []string,
	pitchmarkDir, wavePath, basenamePath string,
	opts core.BuildOptions,
	log *logger.Logger,
) (Summary, error) {
	return importWaves(ctx, wavePaths, pitchmarkDir, wavePath, basenamePath, opts, log)
}

func importWaves(
	ctx context.Context,
	wavePaths []string,
	pitchmarkDir, wavePath, basenamePath string,
	opts core.BuildOptions,
	log *logger.Logger,
) (Summary, error) {
	if len(wavePaths) == 0 {
		return Summary{}, ErrNoWaves
	}

	first, err := LoadWave(wavePaths[0])
	if err != nil {
		return Summary{}, err
	}

	rate := first.Format.SampleRate

	waveWriter, err := timeline.Create(wavePath, opts.ProcessingHeader, rate, opts.IndexIntervalSeconds, log)
	if err != nil {
		return Summary{}, err
	}

	var basenameWriter *timeline.Writer

	if basenamePath != "" {
		basenameWriter, err = timeline.Create(basenamePath, opts.ProcessingHeader, rate, opts.IndexIntervalSeconds, log)
		if err != nil {
			_ = waveWriter.Close()

			return Summary{}, err
		}
	}

	importErr := importAll(ctx, wavePaths, pitchmarkDir, first, waveWriter, basenameWriter, opts, log)

	closeErr := waveWriter.Close()
	if basenameWriter != nil {
		closeErr = errors.Join(closeErr, basenameWriter.Close())
	}

	if importErr != nil {
		return Summary{}, importErr
	}

	if closeErr != nil {
		return Summary{}, closeErr
	}

	return Summary{
		Files:         len(wavePaths),
		SampleRate:    rate,
		NumDatagrams:  waveWriter.NumDatagrams(),
		TotalDuration: waveWriter.TotalDuration(),
	}, nil
}

func importAll(
	ctx context.Context,
	wavePaths []string,
	pitchmarkDir string,
	first *Wave,
	waveWriter, basenameWriter *timeline.Writer,
	opts core.BuildOptions,
	log *logger.Logger,
) error {
	waves, err := NewWaveImporter(waveWriter, opts.FramePeriodSeconds, log)
	if err != nil {
		return err
	}

	var basenames *BasenameImporter
	if basenameWriter != nil {
		basenames = NewBasenameImporter(basenameWriter)
	}

	for n, path := range wavePaths {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return ctxErr
		}

		wave := first
		if n > 0 {
			wave, err = LoadWave(path)
			if err != nil {
				return err
			}
		}

		err = importWave(waves, wave, path, pitchmarkDir)
		if err != nil {
			return err
		}

		if basenames != nil {
			addErr := basenames.AddWave(wave)
			if addErr != nil {
				return addErr
			}
		}
	}

	return nil
}

// importWave appends wave in fixed frames, or at its pitchmarks when
// pitchmarkDir is set.
func importWave(waves *WaveImporter, wave *Wave, path, pitchmarkDir string) error {
	if pitchmarkDir == "" {
		_, err := waves.Import(wave)

		return err
	}

	marks, err := LoadPitchmarks(pitchmarkDir, path)
	if err != nil {
		return err
	}

	_, err = waves.ImportPitchSynchronous(wave, marks)

	return err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/book-expert/voice-timeline/internal/core"
	"github.com/book-expert/voice-timeline/internal/fsutil"
	"github.com/book-expert/voice-timeline/internal/importer"
	"github.com/book-expert/voice-timeline/internal/timeline"
	"github.com/spf13/cobra"
)

const defaultFeatureSampleRate = 16000

func (a *app) importWaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-wave <timeline> <wav|dir>...",
		Short: "Build a waveform timeline from WAV recordings",
		Long: `Build a waveform timeline from WAV recordings, imported in the given order.
Directories are expanded to the recordings they hold, sorted by name.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			waves, err := collectWaves(args[1:], a.cfg.Import.WatchExtensions)
			if err != nil {
				return err
			}

			basenames, _ := cmd.Flags().GetString(flagBasenames)
			pitchmarks, _ := cmd.Flags().GetString(flagPitchmarks)
			opts := a.buildOptions(cmd)

			var summary importer.Summary
			if pitchmarks != "" {
				summary, err = importer.ImportWavesPitchSynchronous(cmd.Context(), waves, pitchmarks, args[0], basenames, opts, a.log)
			} else {
				summary, err = importer.ImportWaves(cmd.Context(), waves, args[0], basenames, opts, a.log)
			}

			if err != nil {
				a.log.Error("Wave import into %s failed: %v", args[0], err)

				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d files into %s: %d datagrams, %s at %d Hz\n",
				summary.Files, args[0], summary.NumDatagrams, fsutil.FormatSamples(summary.TotalDuration, summary.SampleRate), summary.SampleRate)

			return nil
		},
	}

	cmd.Flags().String(flagBasenames, "", flagBasenamesDesc)
	cmd.Flags().String(flagPitchmarks, "", flagPitchmarksDesc)
	addBuildFlags(cmd)

	return cmd
}

func (a *app) importVoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-voice [wave-dir]",
		Short: "Build the waveform and basename timelines of a voice database",
		Long: `Build the waveform and basename timelines of a voice database under the
configured output directory. The recordings come from wave-dir, or from
import.wave_dir when no directory is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			waveDir := a.cfg.Import.WaveDir
			if len(args) == 1 {
				waveDir = args[0]
			}

			if waveDir == "" {
				return fmt.Errorf("%w: no wave directory given or configured", importer.ErrNoWaves)
			}

			waves, err := collectWaves([]string{waveDir}, a.cfg.Import.WatchExtensions)
			if err != nil {
				return err
			}

			ensureErr := fsutil.EnsureDir(a.cfg.Timeline.OutputDir)
			if ensureErr != nil {
				return ensureErr
			}

			wavePath := a.cfg.Timeline.WaveTimelineFile()
			basenamePath := a.cfg.Timeline.BasenameTimelineFile()

			summary, err := importer.ImportWaves(cmd.Context(), waves, wavePath, basenamePath, a.buildOptions(cmd), a.log)
			if err != nil {
				a.log.Error("Voice import from %s failed: %v", waveDir, err)

				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d files: %s, %s (%d datagrams)\n",
				summary.Files, wavePath, basenamePath, summary.NumDatagrams)

			return nil
		},
	}

	addBuildFlags(cmd)

	return cmd
}

func (a *app) importBasenamesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-basenames <timeline> <wav|dir>...",
		Short: "Build a basename timeline mapping time to source utterances",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			waves, err := collectWaves(args[1:], a.cfg.Import.WatchExtensions)
			if err != nil {
				return err
			}

			n, err := a.importBasenames(cmd.Context(), args[0], waves, a.buildOptions(cmd))
			if err != nil {
				a.log.Error("Basename import into %s failed: %v", args[0], err)

				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d basenames into %s\n", n, args[0])

			return nil
		},
	}

	addBuildFlags(cmd)

	return cmd
}

func (a *app) importBasenames(
	ctx context.Context,
	path string,
	wavePaths []string,
	opts core.BuildOptions,
) (int, error) {
	if len(wavePaths) == 0 {
		return 0, importer.ErrNoWaves
	}

	var (
		writer    *timeline.Writer
		basenames *importer.BasenameImporter
	)

	for n, wavePath := range wavePaths {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return n, closeWriter(writer, ctxErr)
		}

		wave, err := importer.LoadWave(wavePath)
		if err != nil {
			return n, closeWriter(writer, err)
		}

		if writer == nil {
			writer, err = timeline.Create(path, opts.ProcessingHeader, wave.Format.SampleRate, opts.IndexIntervalSeconds, a.log)
			if err != nil {
				return 0, err
			}

			basenames = importer.NewBasenameImporter(writer)
		}

		addErr := basenames.AddWave(wave)
		if addErr != nil {
			return n, closeWriter(writer, addErr)
		}
	}

	return len(wavePaths), closeWriter(writer, nil)
}

func (a *app) importFeaturesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-features <timeline|feature> <frames.txt>",
		Short: "Build a feature timeline from text frames, one vector per line",
		Long: `Build a feature timeline from text frames, one vector per line. A first
argument without a path separator or extension names a feature such as "mcep";
its timeline is written under the configured output directory.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			if filepath.Base(target) == target && filepath.Ext(target) == "" {
				var nameErr error

				target, nameErr = a.cfg.Timeline.FeatureTimelineFile(target)
				if nameErr != nil {
					return nameErr
				}

				ensureErr := fsutil.EnsureDir(a.cfg.Timeline.OutputDir)
				if ensureErr != nil {
					return ensureErr
				}
			}

			sampleRate, _ := cmd.Flags().GetInt(flagSampleRate)
			frameRate, _ := cmd.Flags().GetInt(flagFrameRate)
			order, _ := cmd.Flags().GetInt(flagOrder)
			opts := a.buildOptions(cmd)

			if frameRate == 0 {
				frameRate = int(math.Round(1 / opts.FramePeriodSeconds))
			}

			input, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open feature frames: %w", err)
			}
			defer input.Close()

			writer, err := timeline.Create(target, opts.ProcessingHeader, sampleRate, opts.IndexIntervalSeconds, a.log)
			if err != nil {
				return err
			}

			features, err := importer.NewFeatureImporter(writer, frameRate, order)
			if err != nil {
				return closeWriter(writer, err)
			}

			n, err := features.ImportText(input)

			closeErr := closeWriter(writer, err)
			if closeErr != nil {
				a.log.Error("Feature import into %s failed: %v", target, closeErr)

				return closeErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d frames at %d frames/s into %s\n", n, frameRate, target)

			return nil
		},
	}

	cmd.Flags().Int(flagSampleRate, defaultFeatureSampleRate, flagSampleRateDesc)
	cmd.Flags().Int(flagFrameRate, 0, flagFrameRateDesc)
	cmd.Flags().Int(flagOrder, 0, flagOrderDesc)
	addBuildFlags(cmd)

	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Build a waveform timeline for every recording written into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputDir := a.cfg.Timeline.OutputDir
			if cmd.Flags().Changed(flagOutputDir) {
				outputDir, _ = cmd.Flags().GetString(flagOutputDir)
			}

			ensureErr := fsutil.EnsureDir(outputDir)
			if ensureErr != nil {
				return ensureErr
			}

			watcher, err := importer.NewWatcher(args[0], a.cfg.Import.WatchExtensions, importer.DefaultSettleTime, a.log)
			if err != nil {
				return err
			}
			defer watcher.Close()

			opts := a.buildOptions(cmd)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Watching %s, writing timelines to %s\n", args[0], outputDir)

			return watcher.Run(cmd.Context(), func(path string) error {
				target := filepath.Join(outputDir, fsutil.Basename(path)+".mry")
				start := time.Now()

				summary, importErr := importer.ImportWaves(cmd.Context(), []string{path}, target, "", opts, a.log)
				if importErr != nil {
					return importErr
				}

				fmt.Fprintf(out, "%s -> %s (%d datagrams, %v)\n", path, target, summary.NumDatagrams,
					time.Since(start).Round(time.Millisecond))

				return nil
			})
		},
	}

	cmd.Flags().String(flagOutputDir, "", flagOutputDirDesc)
	addBuildFlags(cmd)

	return cmd
}

// collectWaves expands directories in args into the recordings they hold.
func collectWaves(args, exts []string) ([]string, error) {
	var waves []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arg, err)
		}

		if !info.IsDir() {
			waves = append(waves, arg)

			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", arg, err)
		}

		var found []string

		for _, entry := range entries {
			if !entry.IsDir() && fsutil.HasExtension(entry.Name(), exts) {
				found = append(found, filepath.Join(arg, entry.Name()))
			}
		}

		slices.Sort(found)
		waves = append(waves, found...)
	}

	if len(waves) == 0 {
		return nil, importer.ErrNoWaves
	}

	return waves, nil
}

// closeWriter closes w, if any, and returns cause joined with the close error.
func closeWriter(w *timeline.Writer, cause error) error {
	if w == nil {
		return cause
	}

	return errors.Join(cause, w.Close())
}

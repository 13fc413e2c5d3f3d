// main package for the timeline-tool, the batch front end of the timeline
// library: it imports voice database material and inspects timeline files.
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
	"github.com/book-expert/voice-timeline/internal/fsutil"
	"github.com/spf13/cobra"
)

// Flag names.
const (
	flagConfig        = "config"
	flagBasenames     = "basenames"
	flagPitchmarks    = "pitchmarks"
	flagIndexInterval = "index-interval"
	flagFramePeriod   = "frame-period"
	flagHeader        = "processing-header"
	flagJSON          = "json"
	flagLimit         = "limit"
	flagRate          = "rate"
	flagSampleRate    = "sample-rate"
	flagFrameRate     = "frame-rate"
	flagOrder         = "order"
	flagOutputDir     = "output-dir"
)

// Flag descriptions.
const (
	flagConfigDesc        = "Path to a TOML configuration file (defaults apply when empty)"
	flagBasenamesDesc     = "Also write an aligned basename timeline to this path"
	flagPitchmarksDesc    = "Cut each recording at the marks in <basename>.pm under this directory"
	flagIndexIntervalDesc = "Index interval in seconds (overrides the configuration)"
	flagFramePeriodDesc   = "Waveform frame period in seconds (overrides the configuration)"
	flagHeaderDesc        = "Processing header stored in the timeline (overrides the configuration)"
	flagJSONDesc          = "Print one JSON object per datagram"
	flagLimitDesc         = "Stop after this many datagrams (0 = all)"
	flagRateDesc          = "Sample rate of the time arguments (defaults to the timeline's rate)"
	flagSampleRateDesc    = "Sample rate of the feature timeline"
	flagFrameRateDesc     = "Feature frames per second"
	flagOrderDesc         = "Coefficients per frame (0 = any)"
	flagOutputDirDesc     = "Directory for watched imports (overrides the configuration)"
)

const (
	toolLogFile = "timeline-tool.log"

	errFmtLoadConfig = "failed to load configuration: %w"
	errFmtInitLogger = "failed to initialize logger: %w"
)

// app holds the state shared by the subcommands.
type app struct {
	configPath string
	cfg        *config.Config
	log        *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "timeline-tool",
		Short: "Build and inspect voice timeline files",
		Long: `timeline-tool builds timeline files from voice database material and inspects them.

Examples:
  timeline-tool import-wave timelines/timeline_waveforms.mry wav/ --basenames timelines/timeline_basenames.mry
  timeline-tool import-features timelines/timeline_mcep.mry mcep.txt --frame-rate 200 --order 25
  timeline-tool info timelines/timeline_waveforms.mry
  timeline-tool range timelines/timeline_waveforms.mry 16000 800
  timeline-tool which timelines/timeline_basenames.mry 48000
  timeline-tool dump timelines/timeline_basenames.mry --json`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	root.PersistentFlags().StringVar(&a.configPath, flagConfig, "", flagConfigDesc)

	root.AddCommand(
		a.importWaveCmd(),
		a.importVoiceCmd(),
		a.importBasenamesCmd(),
		a.importFeaturesCmd(),
		a.watchCmd(),
		a.infoCmd(),
		a.dumpCmd(),
		a.rangeCmd(),
		a.whichCmd(),
	)

	return root
}

// setup loads the configuration and opens the tool's log file.
func (a *app) setup(_ *cobra.Command, _ []string) error {
	cfg := config.Default()

	if a.configPath != "" {
		var err error

		cfg, err = config.LoadFile(a.configPath)
		if err != nil {
			return fmt.Errorf(errFmtLoadConfig, err)
		}
	}

	ensureErr := fsutil.EnsureDir(cfg.Paths.BaseLogsDir)
	if ensureErr != nil {
		return ensureErr
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, toolLogFile)
	if err != nil {
		return fmt.Errorf(errFmtInitLogger, err)
	}

	a.cfg = cfg
	a.log = log

	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) error {
	if a.log == nil {
		return nil
	}

	return a.log.Close()
}

// buildOptions returns the configured build options with flag overrides applied.
func (a *app) buildOptions(cmd *cobra.Command) core.BuildOptions {
	opts := core.BuildOptions{
		ProcessingHeader:     a.cfg.Timeline.ProcessingHeader,
		IndexIntervalSeconds: a.cfg.Timeline.IndexIntervalSeconds,
		FramePeriodSeconds:   a.cfg.Import.FramePeriodSeconds,
	}

	if cmd.Flags().Changed(flagHeader) {
		opts.ProcessingHeader, _ = cmd.Flags().GetString(flagHeader)
	}

	if cmd.Flags().Changed(flagIndexInterval) {
		opts.IndexIntervalSeconds, _ = cmd.Flags().GetFloat64(flagIndexInterval)
	}

	if cmd.Flags().Changed(flagFramePeriod) {
		opts.FramePeriodSeconds, _ = cmd.Flags().GetFloat64(flagFramePeriod)
	}

	return opts
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagHeader, "", flagHeaderDesc)
	cmd.Flags().Float64(flagIndexInterval, 0, flagIndexIntervalDesc)
	cmd.Flags().Float64(flagFramePeriod, 0, flagFramePeriodDesc)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}

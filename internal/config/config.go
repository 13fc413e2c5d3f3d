// Package config provides the configuration structure for the timeline tools.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-timeline/internal/fsutil"
	"github.com/pelletier/go-toml/v2"
)

// Defaults applied to unset fields.
const (
	DefaultIndexIntervalSeconds = 0.1
	DefaultFramePeriodSeconds   = 0.01
	DefaultOutputDir            = "timelines"
	DefaultWaveTimelineName     = "timeline_waveforms.mry"
	DefaultBasenameTimelineName = "timeline_basenames.mry"
	DefaultFeatureTimelineFmt   = "timeline_%s.mry"
	DefaultImportSubject        = "timeline.import.wave"
	DefaultRangeSubject         = "timeline.range"
	DefaultTimelineBucket       = "TIMELINES"
	DefaultWaveBucket           = "WAVES"
	defaultWaveExtension        = ".wav"
)

// Validation errors.
var (
	// ErrIndexInterval indicates a non-positive index interval.
	ErrIndexInterval = errors.New("index_interval_seconds must be positive")
	// ErrFramePeriod indicates a non-positive frame period.
	ErrFramePeriod = errors.New("frame_period_seconds must be positive")
	// ErrFramePeriodBelowIndex indicates an index interval that would index every frame.
	ErrFramePeriodBelowIndex = errors.New("index_interval_seconds must be larger than frame_period_seconds")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL            string `toml:"url"`
	ImportSubject  string `toml:"import_subject"`
	RangeSubject   string `toml:"range_subject"`
	TimelineBucket string `toml:"timeline_bucket"`
	WaveBucket     string `toml:"wave_bucket"`
}

// TimelineConfig holds the timeline file settings and the voice database file names.
type TimelineConfig struct {
	IndexIntervalSeconds  float64 `toml:"index_interval_seconds"`
	ProcessingHeader      string  `toml:"processing_header"`
	OutputDir             string  `toml:"output_dir"`
	CacheDir              string  `toml:"cache_dir"`
	WaveTimelineName      string  `toml:"wave_timeline_name"`
	BasenameTimelineName  string  `toml:"basename_timeline_name"`
	FeatureTimelineFormat string  `toml:"feature_timeline_format"`
}

// ImportConfig holds the settings of the wave importer.
type ImportConfig struct {
	FramePeriodSeconds float64  `toml:"frame_period_seconds"`
	WaveDir            string   `toml:"wave_dir"`
	WatchExtensions    []string `toml:"watch_extensions"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	Timeline TimelineConfig `toml:"timeline"`
	Import   ImportConfig   `toml:"import"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile loads the configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes a TOML document, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	return finish(&cfg)
}

// Default returns a configuration holding only defaults.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()

	return &cfg
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	setDefault(&c.NATS.ImportSubject, DefaultImportSubject)
	setDefault(&c.NATS.RangeSubject, DefaultRangeSubject)
	setDefault(&c.NATS.TimelineBucket, DefaultTimelineBucket)
	setDefault(&c.NATS.WaveBucket, DefaultWaveBucket)

	if c.Timeline.IndexIntervalSeconds == 0 {
		c.Timeline.IndexIntervalSeconds = DefaultIndexIntervalSeconds
	}

	setDefault(&c.Timeline.OutputDir, DefaultOutputDir)
	setDefault(&c.Timeline.CacheDir, filepath.Join(fsutil.CacheDir(), "timelines"))
	setDefault(&c.Timeline.WaveTimelineName, DefaultWaveTimelineName)
	setDefault(&c.Timeline.BasenameTimelineName, DefaultBasenameTimelineName)
	setDefault(&c.Timeline.FeatureTimelineFormat, DefaultFeatureTimelineFmt)

	if c.Import.FramePeriodSeconds == 0 {
		c.Import.FramePeriodSeconds = DefaultFramePeriodSeconds
	}

	if len(c.Import.WatchExtensions) == 0 {
		c.Import.WatchExtensions = []string{defaultWaveExtension}
	}

	setDefault(&c.Paths.BaseLogsDir, os.TempDir())
}

// Validate checks the numeric settings. An index interval no larger than the
// frame period would put an index field on every datagram.
func (c *Config) Validate() error {
	if c.Timeline.IndexIntervalSeconds <= 0 {
		return fmt.Errorf("%w: got %v", ErrIndexInterval, c.Timeline.IndexIntervalSeconds)
	}

	if c.Import.FramePeriodSeconds <= 0 {
		return fmt.Errorf("%w: got %v", ErrFramePeriod, c.Import.FramePeriodSeconds)
	}

	if c.Timeline.IndexIntervalSeconds <= c.Import.FramePeriodSeconds {
		return fmt.Errorf("%w: %v <= %v", ErrFramePeriodBelowIndex,
			c.Timeline.IndexIntervalSeconds, c.Import.FramePeriodSeconds)
	}

	return nil
}

// EnsureDirectories creates the output, cache and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Timeline.OutputDir, c.Timeline.CacheDir, c.Paths.BaseLogsDir} {
		ensureErr := fsutil.EnsureDir(dir)
		if ensureErr != nil {
			return ensureErr
		}
	}

	return nil
}

// WaveTimelineFile returns the path of the waveform timeline.
func (t *TimelineConfig) WaveTimelineFile() string {
	return filepath.Join(t.OutputDir, t.WaveTimelineName)
}

// BasenameTimelineFile returns the path of the basename timeline.
func (t *TimelineConfig) BasenameTimelineFile() string {
	return filepath.Join(t.OutputDir, t.BasenameTimelineName)
}

// FeatureTimelineFile returns the path of the timeline holding the named feature
// frames, e.g. "mcep" or "lpc".
func (t *TimelineConfig) FeatureTimelineFile(feature string) (string, error) {
	name, err := fsutil.SafeName(feature)
	if err != nil {
		return "", fmt.Errorf("invalid feature name: %w", err)
	}

	return filepath.Join(t.OutputDir, fmt.Sprintf(t.FeatureTimelineFormat, name)), nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

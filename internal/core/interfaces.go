// Package core defines the interfaces and job events shared by the timeline
// service components.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// BuildOptions holds the settings for turning a recording into a timeline.
type BuildOptions struct {
	ProcessingHeader     string
	IndexIntervalSeconds float64
	FramePeriodSeconds   float64
}

// BuildResult describes a finalized timeline file.
type BuildResult struct {
	Data          []byte
	SampleRate    int
	NumDatagrams  int64
	TotalDuration int64
}

// TimelineBuilder turns an encoded recording into a finalized timeline file.
type TimelineBuilder interface {
	Build(ctx context.Context, wave []byte, opts BuildOptions) (BuildResult, error)
	GetOptions() BuildOptions
}

package core

import "github.com/book-expert/events"

// WaveImportRequested asks for a waveform timeline to be built from a stored WAV.
// An empty TimelineKey lets the worker choose one.
type WaveImportRequested struct {
	Header      events.EventHeader `json:"header"`
	WaveKey     string             `json:"wave_key"`
	TimelineKey string             `json:"timeline_key,omitempty"`
}

// TimelineCreated is the reply to WaveImportRequested.
type TimelineCreated struct {
	Header        events.EventHeader `json:"header"`
	TimelineKey   string             `json:"timeline_key"`
	SampleRate    int                `json:"sample_rate"`
	NumDatagrams  int64              `json:"num_datagrams"`
	TotalDuration int64              `json:"total_duration"`
	Error         string             `json:"error,omitempty"`
}

// DatagramRangeRequested asks for the datagrams covering
// [TargetTime, TargetTime+TimeSpan), both in samples at SampleRate.
type DatagramRangeRequested struct {
	Header      events.EventHeader `json:"header"`
	TimelineKey string             `json:"timeline_key"`
	TargetTime  int64              `json:"target_time"`
	TimeSpan    int64              `json:"time_span"`
	SampleRate  int                `json:"sample_rate"`
}

// DatagramPayload is one datagram on the wire.
type DatagramPayload struct {
	Duration int64  `json:"duration"`
	Data     []byte `json:"data"`
}

// DatagramRange is the reply to DatagramRangeRequested. Durations are expressed
// at the requested sample rate.
type DatagramRange struct {
	Header      events.EventHeader `json:"header"`
	TimelineKey string             `json:"timeline_key"`
	SampleRate  int                `json:"sample_rate"`
	Datagrams   []DatagramPayload  `json:"datagrams"`
	Error       string             `json:"error,omitempty"`
}

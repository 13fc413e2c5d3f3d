package importer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-timeline/internal/timeline"
	"github.com/go-audio/wav"
)

// Importer errors.
var (
	// ErrNotWave indicates input that is not a RIFF/WAVE file.
	ErrNotWave = errors.New("not a wave file")
	// ErrSampleRateMismatch indicates a recording whose rate differs from the timeline's.
	ErrSampleRateMismatch = errors.New("wave sample rate differs from timeline sample rate")
	// ErrInvalidPitchmarks indicates pitchmarks that are not strictly increasing inside the recording.
	ErrInvalidPitchmarks = errors.New("invalid pitchmarks")
	// ErrInvalidFramePeriod indicates a frame period shorter than one sample.
	ErrInvalidFramePeriod = errors.New("frame period must cover at least one sample")
)

const (
	logFmtWaveImported = "Imported %s: %d samples at %d Hz in %d frames"
	errFmtOpenWave     = "failed to open wave %s: %w"
	errFmtDecodeWave   = "failed to decode wave %s: %w"
	errFmtFeedFrame    = "failed to feed frame %d of %s: %w"
	bytesPerSample     = 2
)

// Wave is a decoded mono recording with samples normalized to 16 bits.
type Wave struct {
	Name    string
	Format  Format
	Samples []int16
}

// Duration returns the recording length in seconds.
func (w *Wave) Duration() float64 {
	return float64(len(w.Samples)) / float64(w.Format.SampleRate)
}

// DecodeWave decodes a PCM WAV stream. Multi-channel recordings keep their first channel.
func DecodeWave(r io.ReadSeeker, name string) (*Wave, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf(errFmtDecodeWave, name, ErrNotWave)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf(errFmtDecodeWave, name, err)
	}

	format := Format{
		SampleRate: int(decoder.SampleRate),
		BitDepth:   int(decoder.BitDepth),
		Channels:   int(decoder.NumChans),
	}

	validateErr := format.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf(errFmtDecodeWave, name, validateErr)
	}

	frames := len(buf.Data) / format.Channels
	samples := make([]int16, frames)

	for i := range samples {
		samples[i] = toInt16(buf.Data[i*format.Channels], format.BitDepth)
	}

	return &Wave{Name: name, Format: format, Samples: samples}, nil
}

// LoadWave decodes the WAV file at path.
func LoadWave(path string) (*Wave, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf(errFmtOpenWave, path, err)
	}
	defer file.Close()

	return DecodeWave(file, path)
}

func toInt16(v, bitDepth int) int16 {
	switch bitDepth {
	case BIT_DEPTH_8:
		v = (v - 128) << 8
	case BIT_DEPTH_24:
		v >>= 8
	case BIT_DEPTH_32:
		v >>= 16
	}

	return int16(max(math.MinInt16, min(math.MaxInt16, v)))
}

// EncodeSamples encodes samples as big-endian 16-bit values.
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.BigEndian.PutUint16(out[i*bytesPerSample:], uint16(s))
	}

	return out
}

// DecodeSamples decodes a waveform datagram payload.
func DecodeSamples(data []byte) ([]int16, error) {
	if len(data)%bytesPerSample != 0 {
		return nil, fmt.Errorf("%w: odd payload length %d", timeline.ErrCorrupted, len(data))
	}

	out := make([]int16, len(data)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(data[i*bytesPerSample:]))
	}

	return out, nil
}

// WaveImporter appends recordings to a waveform timeline, one datagram per frame.
type WaveImporter struct {
	writer      *timeline.Writer
	frameLength int
	log         *logger.Logger
}

// NewWaveImporter returns an importer feeding w with frames of framePeriodSeconds.
// log may be nil.
func NewWaveImporter(w *timeline.Writer, framePeriodSeconds float64, log *logger.Logger) (*WaveImporter, error) {
	frameLength := int(math.Round(framePeriodSeconds * float64(w.SampleRate())))
	if !(framePeriodSeconds > 0) || frameLength < 1 {
		return nil, fmt.Errorf("%w: %v seconds at %d Hz", ErrInvalidFramePeriod, framePeriodSeconds, w.SampleRate())
	}

	return &WaveImporter{writer: w, frameLength: frameLength, log: log}, nil
}

// FrameLength returns the fixed frame length in samples.
func (i *WaveImporter) FrameLength() int {
	return i.frameLength
}

// ImportFile decodes the WAV at path and appends it in fixed-length frames.
func (i *WaveImporter) ImportFile(path string) (int, error) {
	wave, err := LoadWave(path)
	if err != nil {
		return 0, err
	}

	return i.Import(wave)
}

// Import appends wave in fixed-length frames. The last frame may be shorter.
// It returns the number of datagrams written.
func (i *WaveImporter) Import(wave *Wave) (int, error) {
	var bounds []int
	for start := i.frameLength; start < len(wave.Samples); start += i.frameLength {
		bounds = append(bounds, start)
	}

	return i.feedFrames(wave, bounds)
}

// ImportPitchSynchronous appends wave in frames delimited by pitchmarks, given as
// sample positions strictly inside the recording and strictly increasing.
func (i *WaveImporter) ImportPitchSynchronous(wave *Wave, pitchmarks []int) (int, error) {
	for k, mark := range pitchmarks {
		if mark <= 0 || mark >= len(wave.Samples) || (k > 0 && mark <= pitchmarks[k-1]) {
			return 0, fmt.Errorf("%w: mark %d at %d in %d samples", ErrInvalidPitchmarks, k, mark, len(wave.Samples))
		}
	}

	return i.feedFrames(wave, pitchmarks)
}

// feedFrames writes the frames delimited by bounds, the inner frame boundaries.
func (i *WaveImporter) feedFrames(wave *Wave, bounds []int) (int, error) {
	rate := i.writer.SampleRate()
	if wave.Format.SampleRate != rate {
		return 0, fmt.Errorf("%w: %s at %d Hz, timeline at %d Hz", ErrSampleRateMismatch, wave.Name, wave.Format.SampleRate, rate)
	}

	if len(wave.Samples) == 0 {
		return 0, nil
	}

	start := 0
	edges := append(slices.Clone(bounds), len(wave.Samples))

	for n, end := range edges {
		frame := wave.Samples[start:end]

		feedErr := i.writer.Feed(timeline.NewDatagram(int64(len(frame)), EncodeSamples(frame)), rate)
		if feedErr != nil {
			return n, fmt.Errorf(errFmtFeedFrame, n, wave.Name, feedErr)
		}

		start = end
	}

	if i.log != nil {
		i.log.Info(logFmtWaveImported, wave.Name, len(wave.Samples), rate, len(edges))
	}

	return len(edges), nil
}

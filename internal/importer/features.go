package importer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/book-expert/voice-timeline/internal/timeline"
)

const bytesPerCoefficient = 4

// EncodeFrame encodes a feature vector as big-endian IEEE 754 float32 values.
func EncodeFrame(frame []float32) []byte {
	out := make([]byte, len(frame)*bytesPerCoefficient)
	for i, v := range frame {
		binary.BigEndian.PutUint32(out[i*bytesPerCoefficient:], math.Float32bits(v))
	}

	return out
}

// DecodeFrame decodes a feature datagram payload.
func DecodeFrame(data []byte) ([]float32, error) {
	if len(data)%bytesPerCoefficient != 0 {
		return nil, fmt.Errorf("%w: feature payload of %d bytes", timeline.ErrCorrupted, len(data))
	}

	out := make([]float32, len(data)/bytesPerCoefficient)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(data[i*bytesPerCoefficient:]))
	}

	return out, nil
}

// FeatureImporter writes fixed-rate feature frames such as Mel-cepstrum or LPC
// vectors. Each frame is one datagram lasting one frame period. Frame k starts at
// the timeline sample nearest to k/frameRate seconds, so frames stay aligned with
// a waveform timeline of the same rate even when the frame period is not a whole
// number of samples.
type FeatureImporter struct {
	writer    *timeline.Writer
	frameRate int
	order     int
	frames    int64
}

// NewFeatureImporter returns an importer feeding w with frames produced at
// frameRate frames per second. An order of 0 accepts vectors of any length.
func NewFeatureImporter(w *timeline.Writer, frameRate, order int) (*FeatureImporter, error) {
	if frameRate <= 0 {
		return nil, fmt.Errorf("%w: frame rate %d", timeline.ErrInvalidSampleRate, frameRate)
	}

	return &FeatureImporter{writer: w, frameRate: frameRate, order: order}, nil
}

// Frames returns the number of frames written.
func (f *FeatureImporter) Frames() int64 {
	return f.frames
}

// AddFrame appends one feature vector.
func (f *FeatureImporter) AddFrame(frame []float32) error {
	if f.order > 0 && len(frame) != f.order {
		return fmt.Errorf("%w: frame %d has %d coefficients, want %d", timeline.ErrInvalidDatagram, f.frames, len(frame), f.order)
	}

	rate := f.writer.SampleRate()
	start := timeline.ScaleTime(f.frames, f.frameRate, rate)
	end := timeline.ScaleTime(f.frames+1, f.frameRate, rate)

	feedErr := f.writer.Feed(timeline.NewDatagram(end-start, EncodeFrame(frame)), rate)
	if feedErr != nil {
		return fmt.Errorf("failed to add feature frame %d: %w", f.frames, feedErr)
	}

	f.frames++

	return nil
}

// ImportText reads one frame per line of whitespace-separated numbers.
// Blank lines and lines starting with '#' are skipped.
func (f *FeatureImporter) ImportText(r io.Reader) (int64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	start := f.frames
	line := 0

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		frame := make([]float32, len(fields))

		for i, field := range fields {
			v, parseErr := strconv.ParseFloat(field, 32)
			if parseErr != nil {
				return f.frames - start, fmt.Errorf("line %d: %w", line, parseErr)
			}

			frame[i] = float32(v)
		}

		addErr := f.AddFrame(frame)
		if addErr != nil {
			return f.frames - start, fmt.Errorf("line %d: %w", line, addErr)
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return f.frames - start, fmt.Errorf("failed to read feature frames: %w", scanErr)
	}

	return f.frames - start, nil
}

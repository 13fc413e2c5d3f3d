package importer

import (
	"fmt"

	"github.com/book-expert/voice-timeline/internal/fsutil"
	"github.com/book-expert/voice-timeline/internal/timeline"
)

// BasenameImporter writes one datagram per utterance: its duration is the
// utterance length and its payload the utterance basename. Aligned with a
// waveform timeline of the same rate, it maps any time back to its source file.
type BasenameImporter struct {
	writer *timeline.Writer
}

// NewBasenameImporter returns an importer feeding w.
func NewBasenameImporter(w *timeline.Writer) *BasenameImporter {
	return &BasenameImporter{writer: w}
}

// Add appends an utterance lasting numSamples at sampleRate.
func (b *BasenameImporter) Add(basename string, numSamples int64, sampleRate int) error {
	feedErr := b.writer.Feed(timeline.NewDatagram(numSamples, []byte(basename)), sampleRate)
	if feedErr != nil {
		return fmt.Errorf("failed to add basename %q: %w", basename, feedErr)
	}

	return nil
}

// AddWave appends the utterance held in wave, named after its file.
func (b *BasenameImporter) AddWave(wave *Wave) error {
	return b.Add(fsutil.Basename(wave.Name), int64(len(wave.Samples)), wave.Format.SampleRate)
}

// BasenameAt returns the basename of the utterance containing t, given in
// samples at sampleRate.
func BasenameAt(tl *timeline.Timeline, t int64, sampleRate int) (string, error) {
	c, err := tl.Goto(t, sampleRate)
	if err != nil {
		return "", err
	}

	d, _, err := tl.Next(c)
	if err != nil {
		return "", err
	}

	if d == nil {
		return "", fmt.Errorf("%w: no utterance at %d", timeline.ErrOutOfRange, t)
	}

	return string(d.Data), nil
}

package importer_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/book-expert/voice-timeline/internal/importer"
	"github.com/book-expert/voice-timeline/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWave(t *testing.T) {
	t.Parallel()

	samples := ramp(-500, 1000)
	wave, err := importer.DecodeWave(bytes.NewReader(waveBytes(t, testRate, samples)), "ramp.wav")
	require.NoError(t, err)

	assert.Equal(t, importer.Format{SampleRate: testRate, BitDepth: 16, Channels: 1}, wave.Format)
	assert.Equal(t, asInt16(samples), wave.Samples)
	assert.InDelta(t, 1000.0/testRate, wave.Duration(), 1e-9)
}

func TestDecodeWave_RejectsOtherData(t *testing.T) {
	t.Parallel()

	_, err := importer.DecodeWave(bytes.NewReader([]byte("definitely not RIFF data at all....")), "junk")
	require.ErrorIs(t, err, importer.ErrNotWave)
}

func TestFormat_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, importer.Format{SampleRate: 16000, BitDepth: 16, Channels: 1}.Validate())
	require.ErrorIs(t, importer.Format{SampleRate: 0, BitDepth: 16, Channels: 1}.Validate(), importer.ErrInvalidFormat)
	require.ErrorIs(t, importer.Format{SampleRate: 16000, BitDepth: 12, Channels: 1}.Validate(), importer.ErrInvalidFormat)
	require.ErrorIs(t, importer.Format{SampleRate: 16000, BitDepth: 16, Channels: 9}.Validate(), importer.ErrInvalidFormat)
}

func TestSamplesCodec(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768}

	decoded, err := importer.DecodeSamples(importer.EncodeSamples(samples))
	require.NoError(t, err)
	assert.Equal(t, samples, decoded)

	_, err = importer.DecodeSamples([]byte{1, 2, 3})
	require.ErrorIs(t, err, timeline.ErrCorrupted)
}

// readBack returns every datagram of the timeline at path.
func readBack(t *testing.T, path string) (*timeline.Timeline, []timeline.Datagram) {
	t.Helper()

	tl, err := timeline.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tl.Close() })

	var out []timeline.Datagram

	require.NoError(t, tl.Walk(func(_ timeline.Cursor, d timeline.Datagram) error {
		out = append(out, d)

		return nil
	}))

	return tl, out
}

func TestWaveImporter_FixedFrames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	samples := ramp(0, 1000)
	wavePath := writeWave(t, dir, "a.wav", testRate, samples)
	timelinePath := filepath.Join(dir, "timeline_waveforms.mry")

	writer, err := timeline.Create(timelinePath, "waveforms", testRate, testIdxSeconds, nil)
	require.NoError(t, err)

	waves, err := importer.NewWaveImporter(writer, 0.01, nil)
	require.NoError(t, err)
	assert.Equal(t, 160, waves.FrameLength())

	frames, err := waves.ImportFile(wavePath)
	require.NoError(t, err)
	assert.Equal(t, 7, frames)
	require.NoError(t, writer.Close())

	tl, datagrams := readBack(t, timelinePath)
	assert.Equal(t, int64(1000), tl.TotalDuration())
	require.Len(t, datagrams, 7)
	assert.Equal(t, int64(40), datagrams[6].Duration)

	var joined []int16

	for _, d := range datagrams {
		frame, decodeErr := importer.DecodeSamples(d.Data)
		require.NoError(t, decodeErr)
		assert.Len(t, frame, int(d.Duration))

		joined = append(joined, frame...)
	}

	assert.Equal(t, asInt16(samples), joined)
}

func TestWaveImporter_PitchSynchronous(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	timelinePath := filepath.Join(dir, "pitch.mry")

	writer, err := timeline.Create(timelinePath, "", testRate, testIdxSeconds, nil)
	require.NoError(t, err)

	waves, err := importer.NewWaveImporter(writer, 0.01, nil)
	require.NoError(t, err)

	wave := &importer.Wave{
		Name:    "pitch",
		Format:  importer.Format{SampleRate: testRate, BitDepth: 16, Channels: 1},
		Samples: asInt16(ramp(0, 300)),
	}

	_, err = waves.ImportPitchSynchronous(wave, []int{100, 100})
	require.ErrorIs(t, err, importer.ErrInvalidPitchmarks)

	_, err = waves.ImportPitchSynchronous(wave, []int{0, 100})
	require.ErrorIs(t, err, importer.ErrInvalidPitchmarks)

	frames, err := waves.ImportPitchSynchronous(wave, []int{50, 170, 260})
	require.NoError(t, err)
	assert.Equal(t, 4, frames)
	require.NoError(t, writer.Close())

	_, datagrams := readBack(t, timelinePath)
	require.Len(t, datagrams, 4)

	durations := make([]int64, len(datagrams))
	for i, d := range datagrams {
		durations[i] = d.Duration
	}

	assert.Equal(t, []int64{50, 120, 90, 40}, durations)
}

func TestWaveImporter_RejectsRateMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writer, err := timeline.Create(filepath.Join(dir, "t.mry"), "", 22050, testIdxSeconds, nil)
	require.NoError(t, err)

	defer func() { _ = writer.Close() }()

	waves, err := importer.NewWaveImporter(writer, 0.01, nil)
	require.NoError(t, err)

	_, err = waves.ImportFile(writeWave(t, dir, "a.wav", testRate, ramp(0, 100)))
	require.ErrorIs(t, err, importer.ErrSampleRateMismatch)
}

func TestNewWaveImporter_InvalidFramePeriod(t *testing.T) {
	t.Parallel()

	writer, err := timeline.Create(filepath.Join(t.TempDir(), "t.mry"), "", testRate, testIdxSeconds, nil)
	require.NoError(t, err)

	defer func() { _ = writer.Close() }()

	_, err = importer.NewWaveImporter(writer, 0, nil)
	require.ErrorIs(t, err, importer.ErrInvalidFramePeriod)

	_, err = importer.NewWaveImporter(writer, 1e-6, nil)
	require.ErrorIs(t, err, importer.ErrInvalidFramePeriod)
}

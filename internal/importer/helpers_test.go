package importer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

const (
	testRate       = 16000
	testIdxSeconds = 0.05
)

// ramp returns n samples counting up from start.
func ramp(start, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}

	return out
}

// writeWave encodes 16-bit mono samples into a WAV file under dir.
func writeWave(t *testing.T, dir, name string, rate int, samples []int) string {
	t.Helper()

	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	require.NoError(t, err)

	encoder := wav.NewEncoder(file, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	require.NoError(t, encoder.Write(buf))
	require.NoError(t, encoder.Close())
	require.NoError(t, file.Close())

	return path
}

// waveBytes returns the encoded WAV for samples.
func waveBytes(t *testing.T, rate int, samples []int) []byte {
	t.Helper()

	path := writeWave(t, t.TempDir(), "fixture.wav", rate, samples)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return data
}

func asInt16(samples []int) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(s)
	}

	return out
}


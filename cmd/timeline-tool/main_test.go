package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/voice-timeline/internal/importer"
	"github.com/bytedance/sonic"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSampleRate = 16000

// writeTestConfig writes a configuration keeping every directory under t.TempDir().
func writeTestConfig(t *testing.T) string {
	t.Helper()

	path, _ := writeTestConfigIn(t, t.TempDir(), "")

	return path
}

// writeTestConfigIn writes a configuration under dir, with extra appended, and
// returns its path along with the configured output directory.
func writeTestConfigIn(t *testing.T, dir, extra string) (string, string) {
	t.Helper()

	path := filepath.Join(dir, "project.toml")
	content := fmt.Sprintf(`[paths]
base_logs_dir = %q

[timeline]
output_dir = %q
cache_dir = %q
%s`, filepath.Join(dir, "logs"), filepath.Join(dir, "out"), filepath.Join(dir, "cache"), extra)

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path, filepath.Join(dir, "out")
}

func writeTestWave(t *testing.T, path string, numSamples int) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)

	data := make([]int, numSamples)
	for i := range data {
		data[i] = i % 512
	}

	encoder := wav.NewEncoder(file, testSampleRate, 16, 1, 1)
	require.NoError(t, encoder.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: testSampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, encoder.Close())
	require.NoError(t, file.Close())
}

// runTool executes the tool with args and returns what it printed.
func runTool(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())

	return out.String(), err
}

func decodeRecords(t *testing.T, output string) []datagramRecord {
	t.Helper()

	var records []datagramRecord

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		var record datagramRecord
		require.NoError(t, sonic.Unmarshal([]byte(line), &record))

		records = append(records, record)
	}

	return records
}

func TestImportAndInspectWaves(t *testing.T) {
	t.Parallel()

	cfgPath := writeTestConfig(t)
	dir := t.TempDir()
	waveDir := filepath.Join(dir, "wav")
	require.NoError(t, os.Mkdir(waveDir, 0o755))
	writeTestWave(t, filepath.Join(waveDir, "utt_a.wav"), 1000)
	writeTestWave(t, filepath.Join(waveDir, "utt_b.wav"), 600)
	require.NoError(t, os.WriteFile(filepath.Join(waveDir, "notes.txt"), []byte("skip"), 0o600))

	wavePath := filepath.Join(dir, "timeline_waveforms.mry")
	basenamePath := filepath.Join(dir, "timeline_basenames.mry")

	out, err := runTool(t, "--config", cfgPath, "import-wave", wavePath, waveDir, "--basenames", basenamePath,
		"--processing-header", "test voice")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Imported 2 files")
	assert.Contains(t, out, "11 datagrams")

	out, err = runTool(t, "--config", cfgPath, "info", wavePath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Sample rate:       16000 Hz")
	assert.Contains(t, out, "Datagrams:         11")
	assert.Contains(t, out, "Total duration:    1600 samples")
	assert.Contains(t, out, `"test voice"`)

	out, err = runTool(t, "--config", cfgPath, "dump", basenamePath, "--json")
	require.NoError(t, err, out)

	records := decodeRecords(t, out)
	require.Len(t, records, 2)
	assert.Equal(t, []byte("utt_a"), records[0].Data)
	assert.Equal(t, int64(1000), records[0].Duration)
	require.NotNil(t, records[0].BytePos)
	assert.Equal(t, int64(0), *records[0].BytePos)
	assert.Equal(t, []byte("utt_b"), records[1].Data)
	assert.Equal(t, int64(1000), records[1].TimePos)

	out, err = runTool(t, "--config", cfgPath, "dump", wavePath, "--limit", "3")
	require.NoError(t, err, out)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)

	out, err = runTool(t, "--config", cfgPath, "range", basenamePath, "600", "1", "--rate", "8000", "--json")
	require.NoError(t, err, out)

	records = decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("utt_b"), records[0].Data)
	assert.Equal(t, int64(500), records[0].TimePos)
	assert.Equal(t, int64(300), records[0].Duration)

	out, err = runTool(t, "--config", cfgPath, "range", wavePath, "0", "1")
	require.NoError(t, err, out)
	assert.True(t, strings.HasPrefix(strings.TrimLeft(out, " "), "0  t=0"), out)
	assert.Contains(t, out, "len=320")
}

func TestImportBasenames(t *testing.T) {
	t.Parallel()

	cfgPath := writeTestConfig(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.wav")
	second := filepath.Join(dir, "second.wav")
	writeTestWave(t, first, 400)
	writeTestWave(t, second, 200)

	basenamePath := filepath.Join(dir, "basenames.mry")

	out, err := runTool(t, "--config", cfgPath, "import-basenames", basenamePath, first, second)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Imported 2 basenames")

	out, err = runTool(t, "--config", cfgPath, "range", basenamePath, "450", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"second"`)
}

func TestImportWavePitchmarksAndWhich(t *testing.T) {
	t.Parallel()

	cfgPath := writeTestConfig(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.wav")
	second := filepath.Join(dir, "second.wav")
	writeTestWave(t, first, 400)
	writeTestWave(t, second, 200)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "first.pm"), []byte("100 250\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.pm"), []byte("# one mark\n80\n"), 0o600))

	wavePath := filepath.Join(dir, "waves.mry")
	basenamePath := filepath.Join(dir, "basenames.mry")

	out, err := runTool(t, "--config", cfgPath, "import-wave", wavePath, first, second,
		"--pitchmarks", dir, "--basenames", basenamePath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "5 datagrams")

	out, err = runTool(t, "--config", cfgPath, "dump", wavePath, "--json")
	require.NoError(t, err, out)

	records := decodeRecords(t, out)
	require.Len(t, records, 5)

	durations := make([]int64, len(records))
	for i, record := range records {
		durations[i] = record.Duration
	}

	assert.Equal(t, []int64{100, 150, 150, 80, 120}, durations)

	out, err = runTool(t, "--config", cfgPath, "which", basenamePath, "399")
	require.NoError(t, err, out)
	assert.Equal(t, "first\n", out)

	out, err = runTool(t, "--config", cfgPath, "which", basenamePath, "200", "--rate", "8000")
	require.NoError(t, err, out)
	assert.Equal(t, "second\n", out)

	_, err = runTool(t, "--config", cfgPath, "which", basenamePath, "600")
	require.Error(t, err)

	_, err = runTool(t, "--config", cfgPath, "which", basenamePath, "soon")
	require.Error(t, err)
}

func TestImportWave_MissingPitchmarks(t *testing.T) {
	t.Parallel()

	cfgPath := writeTestConfig(t)
	dir := t.TempDir()
	wave := filepath.Join(dir, "lonely.wav")
	writeTestWave(t, wave, 300)

	_, err := runTool(t, "--config", cfgPath, "import-wave", filepath.Join(dir, "w.mry"), wave,
		"--pitchmarks", filepath.Join(dir, "nowhere"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestImportFeatures(t *testing.T) {
	t.Parallel()

	cfgPath := writeTestConfig(t)
	dir := t.TempDir()
	framesPath := filepath.Join(dir, "mcep.txt")
	require.NoError(t, os.WriteFile(framesPath, []byte("# mcep\n0.5 1\n1.5 2\n2.5 3\n"), 0o600))

	timelinePath := filepath.Join(dir, "timeline_mcep.mry")

	out, err := runTool(t, "--config", cfgPath, "import-features", timelinePath, framesPath,
		"--frame-rate", "200", "--order", "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Imported 3 frames at 200 frames/s")

	out, err = runTool(t, "--config", cfgPath, "range", timelinePath, "1", "1", "--rate", "200", "--json")
	require.NoError(t, err, out)

	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].Duration)

	frame, err := importer.DecodeFrame(records[0].Data)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 2}, frame)

	_, err = runTool(t, "--config", cfgPath, "import-features", timelinePath, framesPath, "--order", "3")
	require.Error(t, err)
}

func TestImportVoiceUsesConfiguredLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	waveDir := filepath.Join(dir, "wav")
	require.NoError(t, os.Mkdir(waveDir, 0o755))
	writeTestWave(t, filepath.Join(waveDir, "utt_a.wav"), 320)

	cfgPath, outDir := writeTestConfigIn(t, dir, fmt.Sprintf("\n[import]\nwave_dir = %q\n", waveDir))

	out, err := runTool(t, "--config", cfgPath, "import-voice")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Imported 1 files")
	assert.FileExists(t, filepath.Join(outDir, "timeline_waveforms.mry"))
	assert.FileExists(t, filepath.Join(outDir, "timeline_basenames.mry"))

	framesPath := filepath.Join(dir, "lpc.txt")
	require.NoError(t, os.WriteFile(framesPath, []byte("1 2\n"), 0o600))

	out, err = runTool(t, "--config", cfgPath, "import-features", "lpc", framesPath)
	require.NoError(t, err, out)
	assert.FileExists(t, filepath.Join(outDir, "timeline_lpc.mry"))
}

func TestCommandErrors(t *testing.T) {
	t.Parallel()

	cfgPath := writeTestConfig(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing timeline", args: []string{"info", filepath.Join(dir, "absent.mry")}},
		{name: "non-numeric target", args: []string{"range", filepath.Join(dir, "absent.mry"), "x", "1"}},
		{name: "empty wave dir", args: []string{"import-wave", filepath.Join(dir, "out.mry"), dir}},
		{name: "missing arguments", args: []string{"dump"}},
	}

	for _, tc := range tests {
		_, err := runTool(t, append([]string{"--config", cfgPath}, tc.args...)...)
		assert.Error(t, err, tc.name)
	}

	_, err := runTool(t, "--config", filepath.Join(dir, "absent.toml"), "info", "x.mry")
	require.Error(t, err)
}

func TestCollectWaves(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestWave(t, filepath.Join(dir, "b.wav"), 10)
	writeTestWave(t, filepath.Join(dir, "a.WAV"), 10)

	waves, err := collectWaves([]string{dir}, []string{".wav"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.WAV"), filepath.Join(dir, "b.wav")}, waves)

	_, err = collectWaves([]string{t.TempDir()}, []string{".wav"})
	require.ErrorIs(t, err, importer.ErrNoWaves)
}

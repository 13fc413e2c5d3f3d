package timeline_test

import (
	"encoding/binary"
	"errors"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/book-expert/voice-timeline/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomDatagrams returns n datagrams with durations in [0, maxDuration] and
// payloads that encode their position.
func randomDatagrams(rng *rand.Rand, n int, maxDuration int64) []timeline.Datagram {
	out := make([]timeline.Datagram, n)

	for i := range out {
		payload := make([]byte, rng.IntN(64))
		for j := range payload {
			payload[j] = byte(i + j)
		}

		out[i] = timeline.NewDatagram(rng.Int64N(maxDuration+1), payload)
	}

	return out
}

// containing returns the position of the datagram whose span holds target.
func containing(datagrams []timeline.Datagram, target int64) int {
	var start int64

	for i, d := range datagrams {
		if target >= start && target < start+d.Duration {
			return i
		}

		start += d.Duration
	}

	return -1
}

func TestTimeline_ScenarioRanges(t *testing.T) {
	t.Parallel()

	tl := writeTimeline(t, scenarioDatagrams(), testIdxSeconds)
	want := scenarioDatagrams()

	all, _, err := tl.Datagrams(0, 480, testSampleRate)
	require.NoError(t, err)
	assert.Equal(t, want, all)

	run, next, err := tl.Datagrams(200, 100, testSampleRate)
	require.NoError(t, err)
	assert.Equal(t, want[1:], run)
	assert.True(t, tl.AtEnd(next))

	first, _, err := tl.Datagrams(0, 100, testSampleRate)
	require.NoError(t, err)
	assert.Equal(t, want[:1], first)
}

func TestTimeline_RangesAtRequestRate(t *testing.T) {
	t.Parallel()

	tl := writeTimeline(t, scenarioDatagrams(), testIdxSeconds)

	run, _, err := tl.Datagrams(0, 240, 8000)
	require.NoError(t, err)
	require.Len(t, run, 3)
	assert.Equal(t, int64(80), run[0].Duration)
	assert.Equal(t, int64(40), run[1].Duration)
	assert.Equal(t, int64(120), run[2].Duration)

	run, _, err = tl.Datagrams(130, 10, 8000)
	require.NoError(t, err)
	require.Len(t, run, 1)
	assert.Equal(t, []byte("C"), run[0].Data)
}

func TestTimeline_GotoFindsContainingDatagram(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	datagrams := randomDatagrams(rng, 400, 300)
	tl := writeTimeline(t, datagrams, 0.005)

	for target := int64(0); target < tl.TotalDuration(); target += 13 {
		c, err := tl.Goto(target, testSampleRate)
		require.NoError(t, err, "target %d", target)

		d, _, err := tl.Next(c)
		require.NoError(t, err)
		require.NotNil(t, d)

		want := datagrams[containing(datagrams, target)]
		assert.True(t, want.Equal(*d), "target %d", target)
		assert.LessOrEqual(t, c.TimePos, target)
		assert.Greater(t, c.TimePos+d.Duration, target)
	}
}

func TestTimeline_GotoOutOfRange(t *testing.T) {
	t.Parallel()

	tl := writeTimeline(t, scenarioDatagrams(), testIdxSeconds)

	for _, target := range []int64{-1, 480, 10000} {
		_, err := tl.Goto(target, testSampleRate)
		require.ErrorIs(t, err, timeline.ErrOutOfRange, "target %d", target)
	}

	_, err := tl.Goto(0, 0)
	require.ErrorIs(t, err, timeline.ErrInvalidSampleRate)

	_, _, err = tl.Datagrams(0, -1, testSampleRate)
	require.ErrorIs(t, err, timeline.ErrOutOfRange)
}

func TestTimeline_HopRejectsBackwardTargets(t *testing.T) {
	t.Parallel()

	tl := writeTimeline(t, scenarioDatagrams(), testIdxSeconds)

	c, err := tl.Goto(300, testSampleRate)
	require.NoError(t, err)
	assert.Equal(t, int64(240), c.TimePos)

	same, err := tl.Hop(c, 100)
	require.ErrorIs(t, err, timeline.ErrBackwardSeek)
	assert.Equal(t, c, same)

	var seekErr *timeline.SeekError
	require.ErrorAs(t, err, &seekErr)
	assert.Equal(t, int64(100), seekErr.Target)
	assert.Equal(t, int64(240), seekErr.Current)
}

func TestTimeline_RoundTripAndDurationConservation(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	datagrams := randomDatagrams(rng, 1000, 500)
	tl := writeTimeline(t, datagrams, 0.02)

	var (
		got   []timeline.Datagram
		total int64
		last  timeline.Cursor
	)

	err := tl.Walk(func(c timeline.Cursor, d timeline.Datagram) error {
		assert.Equal(t, total, c.TimePos)

		got = append(got, d)
		total += d.Duration
		last = c

		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, len(datagrams))

	for i := range datagrams {
		assert.True(t, datagrams[i].Equal(got[i]), "datagram %d", i)
	}

	assert.Equal(t, tl.TotalDuration(), total)
	assert.Equal(t, int64(len(datagrams)), tl.NumDatagrams())
	assert.Positive(t, last.BytePos)
}

func TestTimeline_IndexIsMonotonic(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 4))
	tl := writeTimeline(t, randomDatagrams(rng, 2000, 200), 0.01)

	fields := tl.Index().Fields()
	require.NotEmpty(t, fields)

	interval := tl.Index().Interval()

	for k, field := range fields {
		checkpoint := int64(k+1) * interval
		assert.Less(t, field.TimePosition, checkpoint+1, "field %d", k)

		if k > 0 {
			assert.GreaterOrEqual(t, field.BytePosition, fields[k-1].BytePosition)
			assert.GreaterOrEqual(t, field.TimePosition, fields[k-1].TimePosition)
		}
	}
}

func TestTimeline_ConcurrentRangeQueries(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 6))
	datagrams := randomDatagrams(rng, 500, 400)
	tl := writeTimeline(t, datagrams, 0.01)

	var wg sync.WaitGroup

	errs := make(chan error, 8)

	for worker := range 8 {
		wg.Add(1)

		go func(seed uint64) {
			defer wg.Done()

			local := rand.New(rand.NewPCG(seed, seed))

			for range 200 {
				target := local.Int64N(tl.TotalDuration())

				run, _, err := tl.Datagrams(target, 0, testSampleRate)
				if err != nil {
					errs <- err

					return
				}

				if len(run) != 1 || !run[0].Equal(datagrams[containing(datagrams, target)]) {
					errs <- errors.New("wrong datagram for concurrent query")

					return
				}
			}
		}(uint64(worker))
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

func TestOpen_ResourceErrors(t *testing.T) {
	t.Parallel()

	_, err := timeline.Open(filepath.Join(t.TempDir(), "missing.mry"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpen_PermissionDenied(t *testing.T) {
	t.Parallel()

	if os.Geteuid() == 0 {
		t.Skip("file permissions do not apply to root")
	}

	tl := writeTimeline(t, scenarioDatagrams(), testIdxSeconds)
	require.NoError(t, os.Chmod(tl.Path(), 0o000))

	t.Cleanup(func() { _ = os.Chmod(tl.Path(), 0o600) })

	_, err := timeline.Open(tl.Path())
	require.ErrorIs(t, err, fs.ErrPermission)
}

func TestOpen_RejectsHugeIndexCount(t *testing.T) {
	t.Parallel()

	tl := writeTimeline(t, scenarioDatagrams()[:1], testIdxSeconds)

	raw, err := os.ReadFile(tl.Path())
	require.NoError(t, err)

	countAt := tl.Header().IndexBytePos + 4
	binary.BigEndian.PutUint32(raw[countAt:countAt+4], 0x7fffffff)

	corruptPath := filepath.Join(t.TempDir(), "huge-index.mry")
	require.NoError(t, os.WriteFile(corruptPath, raw, 0o600))

	_, err = timeline.Open(corruptPath)
	require.ErrorIs(t, err, timeline.ErrCorrupted)
}

func TestOpen_RejectsForeignFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "foreign.bin")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVEfmt not a timeline at all, just bytes"), 0o600))

	_, err := timeline.Open(path)
	require.ErrorIs(t, err, timeline.ErrCorrupted)
}

func TestTimeline_CorruptedPayloadLength(t *testing.T) {
	t.Parallel()

	tl := writeTimeline(t, scenarioDatagrams(), testIdxSeconds)
	path := tl.Path()
	zoneStart := tl.Header().DatagramsBytePos

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// Declare a huge payload for the second datagram (at byte 13 of the zone).
	lengthAt := zoneStart + 13 + 8
	raw[lengthAt] = 0x7f

	corruptPath := filepath.Join(t.TempDir(), "corrupt.mry")
	require.NoError(t, os.WriteFile(corruptPath, raw, 0o600))

	reader, err := timeline.NewReader(corruptPath)
	require.NoError(t, err)
	defer reader.Close()

	_, err = reader.NextDatagram()
	require.NoError(t, err)

	_, err = reader.NextDatagram()
	require.ErrorIs(t, err, timeline.ErrCorrupted)

	_, err = reader.SkipNextDatagram()
	require.ErrorIs(t, err, timeline.ErrCorrupted)
}

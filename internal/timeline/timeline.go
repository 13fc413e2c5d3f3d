// Package timeline implements the timeline container: an append-only, indexed
// binary file of duration-tagged datagrams (waveform frames, LPC or Mel-cepstrum
// frames) laid out on a single sample-rate-denominated time axis, with a sparse
// time index for random access by absolute sample time.
//
// Files are produced once by a Writer and then read by any number of Timeline
// views. A Timeline is immutable after Open: positions are carried in Cursor
// values, so one Timeline may serve concurrent range queries. Reader wraps a
// Timeline with a single mutable cursor for sequential callers.
package timeline

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Cursor is a position in the datagram zone: the byte offset from the start of
// the zone and the start time, in native samples, of the datagram found there.
type Cursor struct {
	BytePos int64
	TimePos int64
}

// Timeline is a read-only view of a finalized timeline file.
type Timeline struct {
	path    string
	header  Header
	index   *Index
	body    body
	zoneLen int64
}

// Open maps the timeline at path and loads its header and index.
// Missing or unreadable files fail with errors matching fs.ErrNotExist or
// fs.ErrPermission; malformed files fail with ErrCorrupted.
func Open(path string) (*Timeline, error) {
	src, err := openBody(path)
	if err != nil {
		return nil, err
	}

	tl, err := load(path, src)
	if err != nil {
		_ = src.Close()

		return nil, fmt.Errorf("failed to load timeline %s: %w", path, err)
	}

	return tl, nil
}

func load(path string, src body) (*Timeline, error) {
	header, err := ReadHeader(io.NewSectionReader(src, 0, src.Size()))
	if err != nil {
		return nil, err
	}

	if header.IndexBytePos > src.Size() {
		return nil, newCorruptedError("index zone at %d beyond end of file at %d", header.IndexBytePos, src.Size())
	}

	indexSize := src.Size() - header.IndexBytePos

	index, err := ReadIndex(io.NewSectionReader(src, header.IndexBytePos, indexSize), indexSize)
	if err != nil {
		return nil, err
	}

	zoneLen := header.IndexBytePos - header.DatagramsBytePos

	for i, field := range index.fields {
		if field.BytePosition >= zoneLen || field.TimePosition > header.TotalDuration {
			return nil, newCorruptedError("index field %d (%d, %d) outside datagram zone", i, field.BytePosition, field.TimePosition)
		}
	}

	return &Timeline{
		path:    path,
		header:  header,
		index:   index,
		body:    src,
		zoneLen: zoneLen,
	}, nil
}

// Close releases the file mapping. No cursor operation may run concurrently with
// or after Close.
func (t *Timeline) Close() error {
	return t.body.Close()
}

// Path returns the file the timeline was opened from.
func (t *Timeline) Path() string { return t.path }

// Header returns a copy of the file header.
func (t *Timeline) Header() Header { return t.header }

// SampleRate returns the native sample rate.
func (t *Timeline) SampleRate() int { return t.header.SampleRate }

// NumDatagrams returns the number of stored datagrams.
func (t *Timeline) NumDatagrams() int64 { return t.header.NumDatagrams }

// TotalDuration returns the summed duration of all datagrams in native samples.
func (t *Timeline) TotalDuration() int64 { return t.header.TotalDuration }

// ProcessingHeader returns the provenance string stored by the producer.
func (t *Timeline) ProcessingHeader() string { return t.header.ProcessingHeader }

// Index returns the time index.
func (t *Timeline) Index() *Index { return t.index }

// Start returns the cursor at the start of the datagram zone.
func (t *Timeline) Start() Cursor { return Cursor{} }

// AtEnd reports whether c sits at the end of the datagram zone.
func (t *Timeline) AtEnd(c Cursor) bool { return c.BytePos == t.zoneLen }

// Next reads the datagram at c and returns it with the cursor that follows it.
// At the end of the datagram zone it returns a nil datagram and c unchanged.
func (t *Timeline) Next(c Cursor) (*Datagram, Cursor, error) {
	duration, length, err := t.readFraming(c)
	if err != nil || length < 0 {
		return nil, c, err
	}

	data := make([]byte, length)

	n, readErr := t.body.ReadAt(data, t.header.DatagramsBytePos+c.BytePos+datagramHeaderSize)
	if int64(n) < length {
		return nil, c, newCorruptedError("payload at byte %d: read %d of %d bytes: %v", c.BytePos, n, length, readErr)
	}

	next := Cursor{BytePos: c.BytePos + datagramHeaderSize + length, TimePos: c.TimePos + duration}

	return &Datagram{Duration: duration, Data: data}, next, nil
}

// Skip moves past the datagram at c without reading its payload. It returns
// false at the end of the datagram zone.
func (t *Timeline) Skip(c Cursor) (Cursor, bool, error) {
	duration, length, err := t.readFraming(c)
	if err != nil || length < 0 {
		return c, false, err
	}

	return Cursor{BytePos: c.BytePos + datagramHeaderSize + length, TimePos: c.TimePos + duration}, true, nil
}

// Hop scans forward from c to the datagram whose span contains target, given in
// native samples. Targets before c fail with a *SeekError; targets at or beyond
// the total duration fail with ErrOutOfRange. On failure c is returned unchanged.
func (t *Timeline) Hop(c Cursor, target int64) (Cursor, error) {
	if target < c.TimePos {
		return c, &SeekError{Target: target, Current: c.TimePos}
	}

	if target >= t.header.TotalDuration {
		return c, newOutOfRangeError(target, t.header.TotalDuration)
	}

	cur := c

	for {
		next, ok, err := t.Skip(cur)
		if err != nil {
			return c, err
		}

		if !ok {
			return c, newOutOfRangeError(target, cur.TimePos)
		}

		if next.TimePos > target {
			return cur, nil
		}

		cur = next
	}
}

// Goto returns the cursor of the datagram containing target, which is expressed
// in samples at requestRate. It jumps to the nearest index checkpoint and hops
// forward from there, so the scan never covers much more than one index interval.
func (t *Timeline) Goto(target int64, requestRate int) (Cursor, error) {
	if requestRate <= 0 {
		return Cursor{}, fmt.Errorf("%w: request rate %d", ErrInvalidSampleRate, requestRate)
	}

	scaled := ScaleTime(target, requestRate, t.header.SampleRate)
	if scaled < 0 || scaled >= t.header.TotalDuration {
		return Cursor{}, newOutOfRangeError(scaled, t.header.TotalDuration)
	}

	entry := t.index.EntryBefore(scaled)

	return t.Hop(Cursor{BytePos: entry.BytePosition, TimePos: entry.TimePosition}, scaled)
}

// Datagrams returns the contiguous run of datagrams covering
// [target, target+span), both given in samples at requestRate. The run always
// holds at least the datagram containing target and stops early at the end of the
// zone. Returned durations are rescaled to requestRate. The cursor following the
// run is returned alongside.
func (t *Timeline) Datagrams(target, span int64, requestRate int) ([]Datagram, Cursor, error) {
	if span < 0 {
		return nil, Cursor{}, fmt.Errorf("%w: negative span %d", ErrOutOfRange, span)
	}

	c, err := t.Goto(target, requestRate)
	if err != nil {
		return nil, c, err
	}

	end := ScaleTime(target+span, requestRate, t.header.SampleRate)

	var run []Datagram

	for {
		d, next, nextErr := t.Next(c)
		if nextErr != nil {
			return run, c, nextErr
		}

		if d == nil {
			break
		}

		run = append(run, d.Rescaled(t.header.SampleRate, requestRate))
		c = next

		if c.TimePos >= end {
			break
		}
	}

	return run, c, nil
}

// Walk calls fn for every datagram in order, with the cursor it starts at.
// It stops at the first error returned by fn.
func (t *Timeline) Walk(fn func(c Cursor, d Datagram) error) error {
	c := t.Start()

	for {
		d, next, err := t.Next(c)
		if err != nil {
			return err
		}

		if d == nil {
			return nil
		}

		fnErr := fn(c, *d)
		if fnErr != nil {
			return fnErr
		}

		c = next
	}
}

// readFraming returns the duration and payload length of the datagram at c, or
// a length of -1 at the end of the zone.
func (t *Timeline) readFraming(c Cursor) (int64, int64, error) {
	switch {
	case c.BytePos == t.zoneLen:
		return 0, -1, nil
	case c.BytePos < 0 || c.BytePos > t.zoneLen:
		return 0, 0, fmt.Errorf("%w: cursor at byte %d outside datagram zone of %d bytes", ErrOutOfRange, c.BytePos, t.zoneLen)
	case c.BytePos+datagramHeaderSize > t.zoneLen:
		return 0, 0, newCorruptedError("datagram header at byte %d runs past the datagram zone", c.BytePos)
	}

	var head [datagramHeaderSize]byte

	n, err := t.body.ReadAt(head[:], t.header.DatagramsBytePos+c.BytePos)
	if n < datagramHeaderSize {
		return 0, 0, newCorruptedError("datagram header at byte %d: %v", c.BytePos, err)
	}

	duration := int64(binary.BigEndian.Uint64(head[0:8]))
	length := int64(binary.BigEndian.Uint32(head[8:12]))

	switch {
	case duration < 0:
		return 0, 0, newCorruptedError("negative duration %d at byte %d", duration, c.BytePos)
	case c.BytePos+datagramHeaderSize+length > t.zoneLen:
		return 0, 0, newCorruptedError("payload of %d bytes at byte %d runs past the datagram zone", length, c.BytePos)
	case c.TimePos+duration > t.header.TotalDuration:
		return 0, 0, newCorruptedError("datagram at byte %d ends at %d, past total duration %d", c.BytePos, c.TimePos+duration, t.header.TotalDuration)
	}

	return duration, length, nil
}

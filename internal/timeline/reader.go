package timeline

// Reader reads a timeline through a single cursor. It is not safe for
// concurrent use; goroutines that need their own position should each hold a
// Reader or share a Timeline and carry Cursor values.
type Reader struct {
	tl     *Timeline
	cursor Cursor
	owned  bool
}

// NewReader opens the timeline at path and positions a reader at its start.
// Closing the reader closes the timeline.
func NewReader(path string) (*Reader, error) {
	tl, err := Open(path)
	if err != nil {
		return nil, err
	}

	return &Reader{tl: tl, owned: true}, nil
}

// Reader returns a reader positioned at the start of t. Closing it leaves t open.
func (t *Timeline) Reader() *Reader {
	return &Reader{tl: t}
}

// Timeline returns the underlying timeline.
func (r *Reader) Timeline() *Timeline {
	return r.tl
}

// Cursor returns the current position.
func (r *Reader) Cursor() Cursor {
	return r.cursor
}

// BytePointer returns the current byte offset from the start of the datagram zone.
func (r *Reader) BytePointer() int64 {
	return r.cursor.BytePos
}

// TimePointer returns the current time position in native samples.
func (r *Reader) TimePointer() int64 {
	return r.cursor.TimePos
}

// Rewind moves the cursor back to the start of the datagram zone.
func (r *Reader) Rewind() {
	r.cursor = r.tl.Start()
}

// NextDatagram returns the datagram at the cursor and advances past it.
// It returns nil without moving at the end of the datagram zone.
func (r *Reader) NextDatagram() (*Datagram, error) {
	d, next, err := r.tl.Next(r.cursor)
	if err != nil {
		return nil, err
	}

	r.cursor = next

	return d, nil
}

// SkipNextDatagram advances past the datagram at the cursor without reading its
// payload. It returns false at the end of the datagram zone.
func (r *Reader) SkipNextDatagram() (bool, error) {
	next, ok, err := r.tl.Skip(r.cursor)
	if err != nil {
		return false, err
	}

	r.cursor = next

	return ok, nil
}

// NextDatagrams reads up to n datagrams, fewer when the zone ends first.
func (r *Reader) NextDatagrams(n int) ([]Datagram, error) {
	out := make([]Datagram, 0, n)

	for range n {
		d, err := r.NextDatagram()
		if err != nil {
			return out, err
		}

		if d == nil {
			break
		}

		out = append(out, *d)
	}

	return out, nil
}

// HopToTime scans forward to the datagram containing target, in native samples.
// Backward targets fail with a *SeekError and leave the cursor in place.
func (r *Reader) HopToTime(target int64) error {
	c, err := r.tl.Hop(r.cursor, target)
	if err != nil {
		return err
	}

	r.cursor = c

	return nil
}

// GotoTime positions the cursor on the datagram containing target, given in
// samples at requestRate, from any current position.
func (r *Reader) GotoTime(target int64, requestRate int) error {
	c, err := r.tl.Goto(target, requestRate)
	if err != nil {
		return err
	}

	r.cursor = c

	return nil
}

// GetDatagrams returns the datagrams covering [target, target+span) at
// requestRate and leaves the cursor after the last one.
func (r *Reader) GetDatagrams(target, span int64, requestRate int) ([]Datagram, error) {
	run, c, err := r.tl.Datagrams(target, span, requestRate)
	if err != nil {
		return run, err
	}

	r.cursor = c

	return run, nil
}

// Close closes the underlying timeline when the reader opened it.
func (r *Reader) Close() error {
	if !r.owned {
		return nil
	}

	return r.tl.Close()
}

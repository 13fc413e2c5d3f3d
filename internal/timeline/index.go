package timeline

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	indexHeaderSize = 4 + 4
	indexFieldSize  = 8 + 8
)

// IndexField locates a datagram by its byte offset from the start of the datagram
// zone and by its start time in samples.
type IndexField struct {
	BytePosition int64
	TimePosition int64
}

// Index is the sparse time index of a timeline. Field j is the checkpoint for
// time (j+1)*Interval and points at the datagram that started strictly before
// the first datagram starting at or after that time. The start of the datagram
// zone is the implicit checkpoint for time 0.
type Index struct {
	interval int64
	fields   []IndexField

	// build state
	nextBoundary int64
	prev         IndexField
}

// NewIndex returns an index with the given interval and fields.
func NewIndex(interval int64, fields []IndexField) (*Index, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %d samples", ErrInvalidIndexInterval, interval)
	}

	idx := &Index{
		interval:     interval,
		fields:       fields,
		nextBoundary: interval * int64(len(fields)+1),
	}
	if len(fields) > 0 {
		idx.prev = fields[len(fields)-1]
	}

	return idx, nil
}

// Interval returns the checkpoint spacing in samples.
func (idx *Index) Interval() int64 {
	return idx.interval
}

// Len returns the number of stored fields.
func (idx *Index) Len() int {
	return len(idx.fields)
}

// Fields returns a copy of the stored fields.
func (idx *Index) Fields() []IndexField {
	out := make([]IndexField, len(idx.fields))
	copy(out, idx.fields)

	return out
}

// Feed registers the position of the datagram about to be written. For every
// checkpoint that timePos reaches, the previously fed position is recorded, so
// that the indexed datagram never starts after its checkpoint.
// It returns the number of fields added.
func (idx *Index) Feed(bytePos, timePos int64) int {
	added := 0

	for timePos >= idx.nextBoundary {
		idx.fields = append(idx.fields, idx.prev)
		idx.nextBoundary += idx.interval
		added++
	}

	idx.prev = IndexField{BytePosition: bytePos, TimePosition: timePos}

	return added
}

// EntryBefore returns the checkpoint to start a forward scan from when looking
// for time t. The returned field's TimePosition is never greater than t.
func (idx *Index) EntryBefore(t int64) IndexField {
	k := t / idx.interval
	if t <= 0 || k == 0 || len(idx.fields) == 0 {
		return IndexField{}
	}

	j := min(k-1, int64(len(idx.fields)-1))

	return idx.fields[j]
}

// Size returns the encoded size of the index in bytes.
func (idx *Index) Size() int64 {
	return indexHeaderSize + indexFieldSize*int64(len(idx.fields))
}

// MarshalBinary encodes the index.
func (idx *Index) MarshalBinary() ([]byte, error) {
	if idx.interval > 1<<31-1 {
		return nil, fmt.Errorf("%w: %d samples does not fit the index zone", ErrInvalidIndexInterval, idx.interval)
	}

	buf := make([]byte, idx.Size())
	binary.BigEndian.PutUint32(buf[0:4], uint32(idx.interval))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(idx.fields)))

	for i, field := range idx.fields {
		off := indexHeaderSize + i*indexFieldSize
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(field.BytePosition))
		binary.BigEndian.PutUint64(buf[off+8:off+16], uint64(field.TimePosition))
	}

	return buf, nil
}

// ReadIndex decodes an index zone of size bytes from r and checks that its
// fields are monotonic. A field count that does not fit in size is rejected
// before anything is allocated.
func ReadIndex(r io.Reader, size int64) (*Index, error) {
	var head [indexHeaderSize]byte

	_, err := io.ReadFull(r, head[:])
	if err != nil {
		return nil, newCorruptedError("index header: %v", err)
	}

	interval := int64(int32(binary.BigEndian.Uint32(head[0:4])))
	count := int64(int32(binary.BigEndian.Uint32(head[4:8])))

	if interval <= 0 || count < 0 {
		return nil, newCorruptedError("index interval %d with %d fields", interval, count)
	}

	if count > (size-indexHeaderSize)/indexFieldSize {
		return nil, newCorruptedError("index of %d fields does not fit in %d bytes", count, size)
	}

	body := make([]byte, count*indexFieldSize)

	_, err = io.ReadFull(r, body)
	if err != nil {
		return nil, newCorruptedError("index of %d fields: %v", count, err)
	}

	fields := make([]IndexField, count)

	for i := range fields {
		off := i * indexFieldSize
		fields[i] = IndexField{
			BytePosition: int64(binary.BigEndian.Uint64(body[off : off+8])),
			TimePosition: int64(binary.BigEndian.Uint64(body[off+8 : off+16])),
		}

		if fields[i].BytePosition < 0 || fields[i].TimePosition < 0 {
			return nil, newCorruptedError("index field %d is negative", i)
		}

		if i > 0 && (fields[i].BytePosition < fields[i-1].BytePosition ||
			fields[i].TimePosition < fields[i-1].TimePosition) {
			return nil, newCorruptedError("index field %d goes backwards", i)
		}
	}

	return NewIndex(interval, fields)
}

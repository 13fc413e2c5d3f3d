package timeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// datagramHeaderSize is the framing in front of every payload: int64 duration, uint32 length.
const datagramHeaderSize = 8 + 4

// Datagram is one duration-tagged, variable-length record of a timeline.
// Duration is expressed in samples at the sample rate of the timeline that holds it,
// or at the rate the caller passed along with it.
type Datagram struct {
	Duration int64
	Data     []byte
}

// NewDatagram returns a datagram spanning duration samples and carrying data.
func NewDatagram(duration int64, data []byte) Datagram {
	return Datagram{Duration: duration, Data: data}
}

// Length returns the number of bytes the datagram occupies in a timeline file.
func (d Datagram) Length() int64 {
	return datagramHeaderSize + int64(len(d.Data))
}

// Validate checks that the datagram can be stored.
func (d Datagram) Validate() error {
	if d.Duration < 0 {
		return fmt.Errorf("%w: negative duration %d", ErrInvalidDatagram, d.Duration)
	}

	if uint64(len(d.Data)) > math.MaxUint32 {
		return fmt.Errorf("%w: payload of %d bytes exceeds 32-bit length", ErrInvalidDatagram, len(d.Data))
	}

	return nil
}

// MarshalBinary returns the framed representation of the datagram.
func (d Datagram) MarshalBinary() ([]byte, error) {
	validateErr := d.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	buf := make([]byte, d.Length())
	binary.BigEndian.PutUint64(buf[0:8], uint64(d.Duration))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(d.Data)))
	copy(buf[datagramHeaderSize:], d.Data)

	return buf, nil
}

// WriteTo writes the framed datagram to w.
func (d Datagram) WriteTo(w io.Writer) (int64, error) {
	validateErr := d.Validate()
	if validateErr != nil {
		return 0, validateErr
	}

	var head [datagramHeaderSize]byte
	binary.BigEndian.PutUint64(head[0:8], uint64(d.Duration))
	binary.BigEndian.PutUint32(head[8:12], uint32(len(d.Data)))

	n, err := w.Write(head[:])
	if err != nil {
		return int64(n), fmt.Errorf("failed to write datagram header: %w", err)
	}

	m, err := w.Write(d.Data)
	if err != nil {
		return int64(n + m), fmt.Errorf("failed to write datagram payload: %w", err)
	}

	return int64(n + m), nil
}

// Rescaled returns a copy of d whose duration is converted from fromRate to toRate.
// The payload is shared.
func (d Datagram) Rescaled(fromRate, toRate int) Datagram {
	return Datagram{Duration: ScaleTime(d.Duration, fromRate, toRate), Data: d.Data}
}

// Equal reports whether two datagrams have the same duration and payload.
func (d Datagram) Equal(other Datagram) bool {
	return d.Duration == other.Duration && string(d.Data) == string(other.Data)
}

// ReadDatagram reads one framed datagram from r.
// It returns io.EOF when r is exhausted before the first byte of a record and
// ErrCorrupted when r ends inside a record.
func ReadDatagram(r io.Reader) (Datagram, error) {
	var head [datagramHeaderSize]byte

	_, err := io.ReadFull(r, head[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Datagram{}, io.EOF
		}

		return Datagram{}, newCorruptedError("datagram header: %v", err)
	}

	duration := int64(binary.BigEndian.Uint64(head[0:8]))
	if duration < 0 {
		return Datagram{}, newCorruptedError("negative datagram duration %d", duration)
	}

	length := int64(binary.BigEndian.Uint32(head[8:12]))

	// The buffer grows with the bytes actually read, not with the declared length.
	data, err := io.ReadAll(io.LimitReader(r, length))
	if err != nil {
		return Datagram{}, newCorruptedError("datagram payload of %d bytes: %v", length, err)
	}

	if int64(len(data)) != length {
		return Datagram{}, newCorruptedError("datagram payload of %d bytes: got %d", length, len(data))
	}

	return Datagram{Duration: duration, Data: data}, nil
}

// ScaleTime converts a time in samples from fromRate to toRate, rounding to the
// nearest sample. Both rates must be positive.
func ScaleTime(t int64, fromRate, toRate int) int64 {
	if fromRate == toRate {
		return t
	}

	return int64(math.Round(float64(t) * float64(toRate) / float64(fromRate)))
}

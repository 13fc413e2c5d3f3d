package timeline

import (
	"errors"
	"fmt"
)

// Configuration errors, returned by Create.
var (
	// ErrInvalidSampleRate indicates a sample rate that is not strictly positive.
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidIndexInterval indicates an index interval that does not cover at least one sample.
	ErrInvalidIndexInterval = errors.New("index interval must be positive")
)

// Read and write errors.
var (
	// ErrCorrupted indicates a timeline file that ended mid-record or whose framing is inconsistent.
	ErrCorrupted = errors.New("corrupted timeline")
	// ErrOutOfRange indicates a target time outside the recorded duration.
	ErrOutOfRange = errors.New("time out of range")
	// ErrBackwardSeek indicates a hop to a time before the cursor.
	ErrBackwardSeek = errors.New("backward seek")
	// ErrWriterClosed indicates a write on a closed writer.
	ErrWriterClosed = errors.New("timeline writer is closed")
	// ErrInvalidDatagram indicates a datagram that cannot be stored.
	ErrInvalidDatagram = errors.New("invalid datagram")
)

// SeekError is returned when a hop targets a time before the current cursor.
type SeekError struct {
	Target  int64
	Current int64
}

func (e *SeekError) Error() string {
	return fmt.Sprintf("%v: target time %d is before cursor time %d", ErrBackwardSeek, e.Target, e.Current)
}

// Is reports whether target is ErrBackwardSeek.
func (e *SeekError) Is(target error) bool {
	return target == ErrBackwardSeek
}

func newCorruptedError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupted, fmt.Sprintf(format, args...))
}

func newOutOfRangeError(target, total int64) error {
	return fmt.Errorf("%w: time %d not in [0, %d)", ErrOutOfRange, target, total)
}

package timeline

import (
	"fmt"
	"io"
	"os"
)

// body is the read-only byte source behind an open timeline.
// Implementations must allow concurrent ReadAt calls.
type body interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// fileBody reads through the file handle.
type fileBody struct {
	file *os.File
	size int64
}

func openFileBody(path string) (*fileBody, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("failed to stat timeline: %w", err)
	}

	return &fileBody{file: file, size: info.Size()}, nil
}

func (b *fileBody) ReadAt(p []byte, off int64) (int, error) {
	return b.file.ReadAt(p, off)
}

func (b *fileBody) Size() int64 {
	return b.size
}

func (b *fileBody) Close() error {
	return b.file.Close()
}

// mappedBody serves reads from a read-only memory mapping of the whole file.
type mappedBody struct {
	data  []byte
	unmap func([]byte) error
}

func (b *mappedBody) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}

	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

func (b *mappedBody) Size() int64 {
	return int64(len(b.data))
}

func (b *mappedBody) Close() error {
	if b.data == nil {
		return nil
	}

	data := b.data
	b.data = nil

	return b.unmap(data)
}

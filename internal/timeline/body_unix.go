//go:build unix

package timeline

import (
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

// openBody maps the file read-only. Files that cannot be mapped (empty, too
// large for the address space, or on filesystems without mmap support) are read
// through the file handle instead.
func openBody(path string) (body, error) {
	fb, err := openFileBody(path)
	if err != nil {
		return nil, err
	}

	if fb.size == 0 || fb.size > math.MaxInt {
		return fb, nil
	}

	data, mmapErr := unix.Mmap(int(fb.file.Fd()), 0, int(fb.size), unix.PROT_READ, unix.MAP_SHARED)
	if mmapErr != nil {
		return fb, nil
	}

	closeErr := fb.file.Close()
	if closeErr != nil {
		_ = unix.Munmap(data)

		return nil, fmt.Errorf("failed to close mapped timeline: %w", closeErr)
	}

	return &mappedBody{data: data, unmap: unix.Munmap}, nil
}

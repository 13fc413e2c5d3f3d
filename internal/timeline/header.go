package timeline

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Layout
//
// header:    magic | version | type | procLen | proc | sampleRate |
//            numDatagrams | totalDuration | datagramsBytePos | indexBytePos
// datagrams: { duration | length | payload } ...
// index:     interval | count | { bytePos | timePos } ...
//
// All integers are big-endian. numDatagrams, totalDuration and indexBytePos are
// written as zero when the file is created and patched when the writer closes.

const (
	// Magic identifies timeline files ("MTTS").
	Magic uint32 = 0x4D545453
	// Version is the current file format version.
	Version uint32 = 40
	// FileType marks a timeline among the files sharing the magic.
	FileType uint32 = 300

	// maxProcessingHeader bounds the processing header accepted on read.
	maxProcessingHeader = 16 << 20

	headerFixedSize = 4 + 4 + 4 + 4 + 4 + 8 + 8 + 8 + 8
)

// Header holds the metadata at the start of a timeline file.
type Header struct {
	// ProcessingHeader is a free-form provenance string describing how the data was produced.
	ProcessingHeader string
	SampleRate       int
	NumDatagrams     int64
	// TotalDuration is the sum of all datagram durations, in samples at SampleRate.
	TotalDuration    int64
	DatagramsBytePos int64
	IndexBytePos     int64
}

// Size returns the encoded size of the header in bytes.
func (h *Header) Size() int64 {
	return headerFixedSize + int64(len(h.ProcessingHeader))
}

// MarshalBinary encodes the header.
func (h *Header) MarshalBinary() ([]byte, error) {
	if len(h.ProcessingHeader) > maxProcessingHeader {
		return nil, fmt.Errorf("processing header of %d bytes exceeds %d", len(h.ProcessingHeader), maxProcessingHeader)
	}

	buf := make([]byte, h.Size())
	proc := len(h.ProcessingHeader)

	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], Version)
	binary.BigEndian.PutUint32(buf[8:12], FileType)
	binary.BigEndian.PutUint32(buf[12:16], uint32(proc))
	copy(buf[16:16+proc], h.ProcessingHeader)

	rest := buf[16+proc:]
	binary.BigEndian.PutUint32(rest[0:4], uint32(int32(h.SampleRate)))
	binary.BigEndian.PutUint64(rest[4:12], uint64(h.NumDatagrams))
	binary.BigEndian.PutUint64(rest[12:20], uint64(h.TotalDuration))
	binary.BigEndian.PutUint64(rest[20:28], uint64(h.DatagramsBytePos))
	binary.BigEndian.PutUint64(rest[28:36], uint64(h.IndexBytePos))

	return buf, nil
}

// ReadHeader decodes and checks a header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var prefix [16]byte

	_, err := io.ReadFull(r, prefix[:])
	if err != nil {
		return Header{}, newCorruptedError("header prefix: %v", err)
	}

	magic := binary.BigEndian.Uint32(prefix[0:4])
	version := binary.BigEndian.Uint32(prefix[4:8])
	fileType := binary.BigEndian.Uint32(prefix[8:12])
	procLen := binary.BigEndian.Uint32(prefix[12:16])

	switch {
	case magic != Magic:
		return Header{}, newCorruptedError("bad magic %#x", magic)
	case version != Version:
		return Header{}, newCorruptedError("unsupported version %d", version)
	case fileType != FileType:
		return Header{}, newCorruptedError("file type %d is not a timeline", fileType)
	case procLen > maxProcessingHeader:
		return Header{}, newCorruptedError("processing header length %d", procLen)
	}

	rest := make([]byte, int(procLen)+headerFixedSize-len(prefix))

	_, err = io.ReadFull(r, rest)
	if err != nil {
		return Header{}, newCorruptedError("header body: %v", err)
	}

	fields := rest[procLen:]
	h := Header{
		ProcessingHeader: string(rest[:procLen]),
		SampleRate:       int(int32(binary.BigEndian.Uint32(fields[0:4]))),
		NumDatagrams:     int64(binary.BigEndian.Uint64(fields[4:12])),
		TotalDuration:    int64(binary.BigEndian.Uint64(fields[12:20])),
		DatagramsBytePos: int64(binary.BigEndian.Uint64(fields[20:28])),
		IndexBytePos:     int64(binary.BigEndian.Uint64(fields[28:36])),
	}

	checkErr := h.check()
	if checkErr != nil {
		return Header{}, checkErr
	}

	return h, nil
}

func (h *Header) check() error {
	switch {
	case h.SampleRate <= 0:
		return newCorruptedError("sample rate %d", h.SampleRate)
	case h.NumDatagrams < 0 || h.TotalDuration < 0:
		return newCorruptedError("negative counters (%d datagrams, duration %d)", h.NumDatagrams, h.TotalDuration)
	case h.DatagramsBytePos != h.Size():
		return newCorruptedError("datagram zone at %d, header ends at %d", h.DatagramsBytePos, h.Size())
	case h.IndexBytePos < h.DatagramsBytePos:
		return newCorruptedError("index zone at %d precedes datagram zone at %d", h.IndexBytePos, h.DatagramsBytePos)
	}

	return nil
}

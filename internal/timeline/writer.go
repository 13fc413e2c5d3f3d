package timeline

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/book-expert/logger"
)

const (
	filePermissions = 0o600
	writeBufferSize = 64 << 10
)

const (
	errFmtRemoveExisting = "failed to remove existing timeline %s: %w"
	errFmtCreateFile     = "failed to create timeline %s: %w"
	errFmtWriteHeader    = "failed to write timeline header: %w"
	errFmtWriteDatagram  = "failed to append datagram %d: %w"
	errFmtFinalize       = "failed to finalize timeline %s: %w"

	logFmtCreated = "Timeline %s created: sample rate %d Hz, index interval %d samples"
	logFmtClosed  = "Timeline %s closed: %d datagrams, %d index fields, total duration %d samples (%.3f s)"
)

// Writer appends datagrams to a new timeline file and builds its index.
// A Writer is not safe for concurrent use. The file is only valid once Close
// has returned without error.
type Writer struct {
	path    string
	file    *os.File
	buf     *bufio.Writer
	header  Header
	index   *Index
	bytePos int64
	timePos int64
	log     *logger.Logger
	closed  bool
}

// Create creates the timeline file at path, replacing any existing file, and
// writes a provisional header. The index interval is given in seconds and
// converted to samples at sampleRate. log may be nil.
func Create(
	path, processingHeader string,
	sampleRate int,
	idxIntervalSeconds float64,
	log *logger.Logger,
) (*Writer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSampleRate, sampleRate)
	}

	if !(idxIntervalSeconds > 0) || math.IsInf(idxIntervalSeconds, 0) {
		return nil, fmt.Errorf("%w: got %v seconds", ErrInvalidIndexInterval, idxIntervalSeconds)
	}

	interval := int64(math.Round(float64(sampleRate) * idxIntervalSeconds))

	index, err := NewIndex(interval, nil)
	if err != nil {
		return nil, fmt.Errorf("%v seconds at %d Hz: %w", idxIntervalSeconds, sampleRate, err)
	}

	header := Header{
		ProcessingHeader: processingHeader,
		SampleRate:       sampleRate,
	}
	header.DatagramsBytePos = header.Size()

	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf(errFmtWriteHeader, err)
	}

	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
		return nil, fmt.Errorf(errFmtRemoveExisting, path, removeErr)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, filePermissions)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateFile, path, err)
	}

	writer := &Writer{
		path:   path,
		file:   file,
		buf:    bufio.NewWriterSize(file, writeBufferSize),
		header: header,
		index:  index,
		log:    log,
	}

	_, err = writer.buf.Write(headerBytes)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf(errFmtWriteHeader, err)
	}

	writer.info(logFmtCreated, path, sampleRate, interval)

	return writer, nil
}

// Path returns the file being written.
func (w *Writer) Path() string {
	return w.path
}

// SampleRate returns the native sample rate of the timeline.
func (w *Writer) SampleRate() int {
	return w.header.SampleRate
}

// NumDatagrams returns the number of datagrams written so far.
func (w *Writer) NumDatagrams() int64 {
	return w.header.NumDatagrams
}

// TotalDuration returns the summed duration written so far, in native samples.
func (w *Writer) TotalDuration() int64 {
	return w.timePos
}

// Index returns the index built so far.
func (w *Writer) Index() *Index {
	return w.index
}

// Feed appends one datagram whose duration is expressed at sourceRate.
// When sourceRate differs from the timeline's rate the duration is rescaled first.
func (w *Writer) Feed(d Datagram, sourceRate int) error {
	if w.closed {
		return ErrWriterClosed
	}

	if sourceRate <= 0 {
		return fmt.Errorf("%w: source rate %d", ErrInvalidSampleRate, sourceRate)
	}

	if sourceRate != w.header.SampleRate {
		d = d.Rescaled(sourceRate, w.header.SampleRate)
	}

	validateErr := d.Validate()
	if validateErr != nil {
		return fmt.Errorf(errFmtWriteDatagram, w.header.NumDatagrams, validateErr)
	}

	w.index.Feed(w.bytePos, w.timePos)

	n, err := d.WriteTo(w.buf)
	if err != nil {
		return fmt.Errorf(errFmtWriteDatagram, w.header.NumDatagrams, err)
	}

	w.bytePos += n
	w.timePos += d.Duration
	w.header.NumDatagrams++

	return nil
}

// FeedAll appends datagrams in order, stopping at the first failure.
func (w *Writer) FeedAll(datagrams []Datagram, sourceRate int) error {
	for _, d := range datagrams {
		feedErr := w.Feed(d, sourceRate)
		if feedErr != nil {
			return feedErr
		}
	}

	return nil
}

// Close writes the index, patches the header counters and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}

	w.closed = true

	finalizeErr := w.finalize()
	closeErr := w.file.Close()

	if finalizeErr != nil {
		return fmt.Errorf(errFmtFinalize, w.path, finalizeErr)
	}

	if closeErr != nil {
		return fmt.Errorf(errFmtFinalize, w.path, closeErr)
	}

	seconds := float64(w.timePos) / float64(w.header.SampleRate)
	w.info(logFmtClosed, w.path, w.header.NumDatagrams, w.index.Len(), w.timePos, seconds)

	return nil
}

func (w *Writer) finalize() error {
	w.header.TotalDuration = w.timePos
	w.header.IndexBytePos = w.header.DatagramsBytePos + w.bytePos

	indexBytes, err := w.index.MarshalBinary()
	if err != nil {
		return err
	}

	_, err = w.buf.Write(indexBytes)
	if err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	err = w.buf.Flush()
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	headerBytes, err := w.header.MarshalBinary()
	if err != nil {
		return err
	}

	_, err = w.file.WriteAt(headerBytes, 0)
	if err != nil {
		return fmt.Errorf("failed to patch header: %w", err)
	}

	err = w.file.Sync()
	if err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}

	return nil
}

func (w *Writer) info(format string, args ...any) {
	if w.log != nil {
		w.log.Info(format, args...)
	}
}

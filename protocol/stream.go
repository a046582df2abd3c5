package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"strconv"

	"github.com/pior/muxcache/internal"
)

const (
	// DefaultMaxFrameSize bounds the frames a Reader accepts.
	DefaultMaxFrameSize = 64 << 20

	readBufferSize  = 4096
	writeBufferSize = 4096
	maxEmptyReads   = 100
)

// Reader decodes frames from a byte stream. It buffers partial frames across reads and
// never hands out a frame before all of its bytes arrived.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	r            io.Reader
	buf          []byte
	start, end   int
	maxFrameSize int
}

// NewReader returns a Reader on r. maxFrameSize <= 0 selects DefaultMaxFrameSize.
func NewReader(r io.Reader, maxFrameSize int) *Reader {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Reader{
		r:            r,
		buf:          make([]byte, readBufferSize),
		maxFrameSize: maxFrameSize,
	}
}

// Buffered returns the number of bytes read from the stream but not yet decoded.
func (r *Reader) Buffered() int {
	return r.end - r.start
}

// ReadFrame returns the next frame. It returns io.EOF on a clean end of stream,
// io.ErrUnexpectedEOF when the stream ends inside a frame, and a *FrameError for
// malformed or oversized frames.
func (r *Reader) ReadFrame() (Frame, error) {
	for {
		pending := r.buf[r.start:r.end]

		total, ok, err := PeekFrameLen(pending)
		if err != nil {
			return Frame{}, err
		}
		if ok {
			if total > r.maxFrameSize {
				return Frame{}, &FrameError{
					RequestID: binary.BigEndian.Uint64(pending[offRequestID:]),
					Message:   "frame of " + strconv.Itoa(total) + " bytes exceeds limit of " + strconv.Itoa(r.maxFrameSize),
				}
			}

			frame, n, err := Decode(pending)
			if err != nil {
				return Frame{}, err
			}
			if n > 0 {
				r.start += n
				if r.start == r.end {
					r.start, r.end = 0, 0
				}
				return frame, nil
			}
		}

		need := HeaderLen
		if ok {
			need = total
		}
		if err := r.fill(need); err != nil {
			return Frame{}, err
		}
	}
}

// fill reads at least once from the stream, making room for a frame of need bytes.
func (r *Reader) fill(need int) error {
	if r.start > 0 {
		r.end = copy(r.buf, r.buf[r.start:r.end])
		r.start = 0
	}
	if need > len(r.buf) {
		grown := make([]byte, need)
		copy(grown, r.buf[:r.end])
		r.buf = grown
	}

	for range maxEmptyReads {
		n, err := r.r.Read(r.buf[r.end:])
		r.end += n
		if n > 0 {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) && r.end > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return io.ErrNoProgress
}

// Writer encodes frames onto a byte stream. Frames are buffered until Flush.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	bw *bufio.Writer
}

var framePool = internal.NewByteBufferPool(512, 1<<20)

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriterSize(w, writeBufferSize)}
}

// WriteFrame buffers the frame for (id, m). A message with an unknown op or code is
// rejected with a *FrameError and nothing is buffered.
func (w *Writer) WriteFrame(id uint64, m Message) error {
	if err := checkEncodable(id, m); err != nil {
		return err
	}

	if FrameLen(m) <= w.bw.Available() {
		_, err := w.bw.Write(AppendFrame(w.bw.AvailableBuffer(), id, m))
		return err
	}

	buf := framePool.Get()
	defer framePool.Put(buf)

	buf.Write(AppendFrame(buf.AvailableBuffer(), id, m))
	_, err := w.bw.Write(buf.Bytes())
	return err
}

// Buffered returns the number of bytes waiting for Flush.
func (w *Writer) Buffered() int {
	return w.bw.Buffered()
}

// Flush writes any buffered frames to the underlying stream.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

package protocol

import (
	"errors"
	"io"
)

const readerBufferSize = 4096

// Reader reads whole messages from a blocking connection. It is the client
// side counterpart of feeding a Decoder from a readiness loop.
//
// Reader is also an io.Reader that returns bytes it has read ahead of the
// decoder before reading the connection again. After a PRIVATE-FILE header,
// read the file stream from the Reader itself, see Stream.
type Reader struct {
	r   io.Reader
	dec Decoder

	buf     []byte
	pending []byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   r,
		buf: make([]byte, readerBufferSize),
	}
}

// ReadMessage blocks until a full message has arrived. It returns io.EOF if the
// connection ends between messages and io.ErrUnexpectedEOF if it ends in the
// middle of one.
func (r *Reader) ReadMessage() (*Message, error) {
	for {
		if len(r.pending) > 0 {
			n, msg, err := r.dec.Feed(r.pending)
			r.pending = r.pending[n:]

			if err != nil {
				return nil, err
			}

			if msg != nil {
				return msg, nil
			}
		}

		n, err := r.r.Read(r.buf)
		r.pending = r.buf[:n]

		if n > 0 {
			continue
		}

		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) && r.dec.InProgress() {
			return nil, io.ErrUnexpectedEOF
		}

		return nil, err
	}
}

// Read drains bytes buffered by a previous ReadMessage before reading from the
// underlying reader.
func (r *Reader) Read(p []byte) (int, error) {
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}

	return r.r.Read(p)
}

// Stream returns the raw stream of size bytes that follows a PRIVATE-FILE
// header. It must be read to the end before the next ReadMessage.
func (r *Reader) Stream(size int64) io.Reader {
	return io.LimitReader(r, size)
}

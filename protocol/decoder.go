package protocol

import (
	"encoding/binary"
	"fmt"
	"net"
	"unicode/utf8"
)

type stage uint8

const (
	// stageType waits for the 4 byte type code of the next message.
	stageType stage = iota

	// stageFixed waits for a fixed width field.
	stageFixed

	// stageLength waits for the length prefix of a variable field.
	stageLength

	// stagePayload waits for the bytes announced by the length prefix.
	stagePayload
)

// Decoder reconstructs messages from a byte stream delivered in chunks of any
// size. The zero value is ready to use.
//
// The Decoder keeps a buffer for the field currently being read and the number
// of bytes it still needs. A field is only decoded once it is complete; values
// of earlier fields are carried in the message under construction until its
// last field arrives.
type Decoder struct {
	stage stage

	// buf holds the field being read, filled up to filled out of want bytes.
	buf    [MaxTextLength]byte
	want   int
	filled int

	msg   Message
	field int
}

// Feed consumes bytes from p until a message is complete or p is exhausted. It
// returns how many bytes were consumed and the message, if one was completed.
// Bytes after a completed message are left for the next call, so callers feed
// the remainder in a loop:
//
//	for len(p) > 0 {
//		n, msg, err := d.Feed(p)
//		p = p[n:]
//		...
//	}
//
// After a PRIVATE-FILE message the bytes that follow are the raw file stream
// and must not be fed back to the Decoder.
//
// A non-nil error is always a protocol violation. The Decoder is reset and the
// connection the bytes came from cannot be resynchronised.
func (d *Decoder) Feed(p []byte) (int, *Message, error) {
	if d.want == 0 {
		d.expect(stageType, 4)
	}

	consumed := 0
	for consumed < len(p) {
		n := copy(d.buf[d.filled:d.want], p[consumed:])
		d.filled += n
		consumed += n

		if d.filled < d.want {
			break
		}

		msg, err := d.complete()
		if err != nil {
			d.Reset()
			return consumed, nil, err
		}

		if msg != nil {
			return consumed, msg, nil
		}
	}

	return consumed, nil, nil
}

// InProgress reports whether part of a message has been consumed.
func (d *Decoder) InProgress() bool {
	return d.stage != stageType || d.filled > 0
}

// Reset discards any partially decoded message.
func (d *Decoder) Reset() {
	d.msg = Message{}
	d.field = 0
	d.expect(stageType, 4)
}

func (d *Decoder) expect(s stage, n int) {
	d.stage = s
	d.want = n
	d.filled = 0
}

// complete decodes the now full buffer and moves on to whatever comes next.
func (d *Decoder) complete() (*Message, error) {
	switch d.stage {
	case stageType:
		t := Type(binary.BigEndian.Uint32(d.buf[:4]))
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint32(t))
		}

		d.msg = Message{Type: t}
		d.field = 0
		return d.next()

	case stageLength:
		kind := layouts[d.msg.Type][d.field]
		length := binary.BigEndian.Uint32(d.buf[:4])

		if kind == fieldAddress {
			if length != net.IPv4len && length != net.IPv6len {
				return nil, fmt.Errorf("%w: %s declared %d bytes", ErrInvalidAddress, d.msg.Type, length)
			}
		} else if length > uint32(kind.limit()) {
			return nil, fmt.Errorf("%w: %s %s declared %d bytes, limit is %d",
				ErrFieldTooLong, d.msg.Type, kind, length, kind.limit())
		}

		if length == 0 {
			if err := d.store(kind, nil); err != nil {
				return nil, err
			}
			d.field++
			return d.next()
		}

		d.expect(stagePayload, int(length))
		return nil, nil

	default:
		kind := layouts[d.msg.Type][d.field]
		if err := d.store(kind, d.buf[:d.want]); err != nil {
			return nil, err
		}

		d.field++
		return d.next()
	}
}

// next prepares for the following field, or emits the message when there are
// no fields left.
func (d *Decoder) next() (*Message, error) {
	layout := layouts[d.msg.Type]

	if d.field == len(layout) {
		msg := d.msg
		d.Reset()
		return &msg, nil
	}

	if width := layout[d.field].width(); width > 0 {
		d.expect(stageFixed, width)
	} else {
		d.expect(stageLength, 4)
	}

	return nil, nil
}

func (d *Decoder) store(kind fieldKind, b []byte) error {
	switch kind {
	case fieldIdentity, fieldText, fieldFileName:
		if !utf8.Valid(b) {
			return fmt.Errorf("%w: %s %s", ErrInvalidUTF8, d.msg.Type, kind)
		}

		s := string(b)
		switch kind {
		case fieldIdentity:
			d.msg.Identity = s
		case fieldText:
			d.msg.Text = s
		default:
			d.msg.FileName = s
		}

	case fieldFlag:
		d.msg.Accepted = b[0] != 0

	case fieldAddress:
		// buf is reused for the next field
		d.msg.Address = append(net.IP(nil), b...)

	case fieldMessagePort, fieldFilePort:
		port := binary.BigEndian.Uint32(b)
		if port > 0xffff {
			return fmt.Errorf("%w: %s %s %d", ErrInvalidPort, d.msg.Type, kind, port)
		}

		if kind == fieldMessagePort {
			d.msg.MessagePort = uint16(port)
		} else {
			d.msg.FilePort = uint16(port)
		}

	case fieldSize:
		size := int64(binary.BigEndian.Uint64(b))
		if size < 0 {
			return fmt.Errorf("%w: %s declared %d bytes", ErrInvalidSize, d.msg.Type, size)
		}
		d.msg.Size = size

	case fieldCode:
		d.msg.Code = ErrorCode(binary.BigEndian.Uint32(b))
	}

	return nil
}

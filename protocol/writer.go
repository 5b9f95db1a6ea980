package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// AppendMessage appends the encoded form of m to buf. It fails, leaving buf
// untouched, if a field of m would not pass decoding on the other side.
func AppendMessage(buf []byte, m *Message) ([]byte, error) {
	if !m.Type.Valid() {
		return buf, fmt.Errorf("encoding %s: %w", m.Type, ErrUnknownType)
	}

	out := binary.BigEndian.AppendUint32(buf, uint32(m.Type))

	var err error
	for _, kind := range layouts[m.Type] {
		if out, err = appendField(out, kind, m); err != nil {
			return buf, fmt.Errorf("encoding %s %s: %w", m.Type, kind, err)
		}
	}

	return out, nil
}

// MarshalBinary encodes m into a new buffer.
func (m *Message) MarshalBinary() ([]byte, error) {
	return AppendMessage(nil, m)
}

// WriteMessage encodes m and writes it to w with a single Write.
func WriteMessage(w io.Writer, m *Message) error {
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}

	_, err = w.Write(b)
	return err
}

// WriteFile writes a PRIVATE-FILE header for name followed by exactly size
// bytes read from r.
func WriteFile(w io.Writer, name string, size int64, r io.Reader) error {
	if err := WriteMessage(w, NewPrivateFile(name, size)); err != nil {
		return err
	}

	n, err := io.CopyN(w, r, size)
	if err != nil {
		return fmt.Errorf("sent %d of %d bytes of %q: %w", n, size, name, err)
	}

	return nil
}

func appendField(buf []byte, kind fieldKind, m *Message) ([]byte, error) {
	switch kind {
	case fieldIdentity:
		return appendText(buf, m.Identity, kind.limit())

	case fieldText:
		return appendText(buf, m.Text, kind.limit())

	case fieldFileName:
		return appendText(buf, m.FileName, kind.limit())

	case fieldFlag:
		if m.Accepted {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil

	case fieldAddress:
		addr := m.Address
		if v4 := addr.To4(); v4 != nil {
			addr = v4
		}
		if len(addr) != 4 && len(addr) != 16 {
			return buf, ErrInvalidAddress
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(addr)))
		return append(buf, addr...), nil

	case fieldMessagePort:
		return binary.BigEndian.AppendUint32(buf, uint32(m.MessagePort)), nil

	case fieldFilePort:
		return binary.BigEndian.AppendUint32(buf, uint32(m.FilePort)), nil

	case fieldSize:
		if m.Size < 0 {
			return buf, ErrInvalidSize
		}
		return binary.BigEndian.AppendUint64(buf, uint64(m.Size)), nil

	case fieldCode:
		return binary.BigEndian.AppendUint32(buf, uint32(m.Code)), nil
	}

	return buf, fmt.Errorf("unhandled field kind %d", kind)
}

func appendText(buf []byte, s string, limit int) ([]byte, error) {
	if len(s) > limit {
		return buf, ErrFieldTooLong
	}

	if !utf8.ValidString(s) {
		return buf, ErrInvalidUTF8
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...), nil
}

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation is wrapped by every decoding failure. A connection
	// that produced one must be torn down.
	ErrProtocolViolation = errors.New("protocol violation")

	ErrUnknownType    = fmt.Errorf("%w: unknown message type", ErrProtocolViolation)
	ErrFieldTooLong   = fmt.Errorf("%w: field exceeds its maximum length", ErrProtocolViolation)
	ErrInvalidUTF8    = fmt.Errorf("%w: text is not valid UTF-8", ErrProtocolViolation)
	ErrInvalidAddress = fmt.Errorf("%w: address must be 4 or 16 bytes", ErrProtocolViolation)
	ErrInvalidPort    = fmt.Errorf("%w: port out of range", ErrProtocolViolation)
	ErrInvalidSize    = fmt.Errorf("%w: negative file size", ErrProtocolViolation)
)

// IsViolation reports whether err is a protocol violation.
func IsViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation)
}

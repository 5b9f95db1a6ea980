package protocol

import "fmt"

// ErrorCode is carried by ERROR messages to tell a client why a request was
// refused. The connection stays open after an ERROR.
type ErrorCode uint32

const (
	ErrorUnknown ErrorCode = iota
	ErrorUnknownTarget
	ErrorSelfRequest
	ErrorRequestPending
	ErrorNoPendingRequest
	ErrorNoAcceptedRequest
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorUnknownTarget:
		return "no such user is connected"
	case ErrorSelfRequest:
		return "cannot open a private channel with yourself"
	case ErrorRequestPending:
		return "a private request with that user is already pending"
	case ErrorNoPendingRequest:
		return "no pending private request from that user"
	case ErrorNoAcceptedRequest:
		return "that user has not accepted a private request"
	case ErrorUnknown:
		return "unknown error"
	default:
		return fmt.Sprintf("error %d", uint32(c))
	}
}

package chat

import (
	"errors"
	"fmt"

	"github.com/luma/chatter/protocol"
)

var (
	// ErrDisconnect is returned by Session.Receive when the client asked to
	// disconnect. It is not a failure.
	ErrDisconnect = errors.New("client disconnected")

	ErrAlreadyAuthenticated = fmt.Errorf("%w: connect request from an authenticated session", protocol.ErrProtocolViolation)
	ErrUnexpectedMessage    = fmt.Errorf("%w: message type not accepted from clients", protocol.ErrProtocolViolation)
)

// Rejections of private channel requests. The session stays open and the
// client gets an ERROR message with the matching code.
var (
	ErrUnknownTarget     = errors.New("target is not connected")
	ErrSelfRequest       = errors.New("private request to self")
	ErrRequestPending    = errors.New("private request already pending")
	ErrNoPendingRequest  = errors.New("no pending private request")
	ErrNoAcceptedRequest = errors.New("no accepted private request")
)

// ErrorCode maps a directory rejection to the code sent to the client.
func ErrorCode(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, ErrUnknownTarget):
		return protocol.ErrorUnknownTarget
	case errors.Is(err, ErrSelfRequest):
		return protocol.ErrorSelfRequest
	case errors.Is(err, ErrRequestPending):
		return protocol.ErrorRequestPending
	case errors.Is(err, ErrNoPendingRequest):
		return protocol.ErrorNoPendingRequest
	case errors.Is(err, ErrNoAcceptedRequest):
		return protocol.ErrorNoAcceptedRequest
	default:
		return protocol.ErrorUnknown
	}
}

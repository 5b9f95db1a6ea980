package client

import "github.com/luma/chatter/protocol"

type EventKind int

const (
	// EventJoined is a member, possibly this session, joining the chat
	EventJoined EventKind = iota
	EventLeft
	EventMessage

	// EventPrivateRequest asks this session to accept a private link from Peer
	EventPrivateRequest
	EventPrivateEstablished
	EventPrivateFailed
	EventPrivateMessage

	// EventPrivateFile is a file from Peer, saved at Path
	EventPrivateFile

	// EventPrivateClosed is the peer, or the connection, ending a private link
	EventPrivateClosed

	// EventError is an ERROR from the server, see Code
	EventError
)

var eventNames = [...]string{
	EventJoined:             "joined",
	EventLeft:               "left",
	EventMessage:            "message",
	EventPrivateRequest:     "private request",
	EventPrivateEstablished: "private established",
	EventPrivateFailed:      "private failed",
	EventPrivateMessage:     "private message",
	EventPrivateFile:        "private file",
	EventPrivateClosed:      "private closed",
	EventError:              "error",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// Event is something the user of a Session should hear about. Which fields are
// set depends on Kind.
type Event struct {
	Kind EventKind

	// Peer is the identity the event concerns
	Peer string

	Text string

	Path string
	Size int64

	Code protocol.ErrorCode

	Err error
}

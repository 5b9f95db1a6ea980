package protocol

import (
	"fmt"
	"net"
)

// Type is the message type code that prefixes every message.
type Type uint32

const (
	TypeConnectRequest Type = iota
	TypeConnectResponse
	TypeConnectNotify
	TypeMessage
	TypeMessageBroadcast
	TypeDisconnect
	TypeDisconnectNotify
	TypePrivateRequest
	TypePrivateRequestNotify
	TypePrivateAccept
	TypePrivateEstablishSource
	TypePrivateEstablishDest
	TypePrivatePorts
	TypePrivateMessage
	TypePrivateFile
	TypeError

	numTypes
)

const (
	// MaxIdentityLength is the maximum encoded size of an identity, in bytes.
	MaxIdentityLength = 32

	// MaxTextLength is the maximum encoded size of free text, in bytes.
	MaxTextLength = 512

	// MaxFileNameLength is the maximum encoded size of a file name, in bytes.
	MaxFileNameLength = 255
)

var typeNames = [numTypes]string{
	TypeConnectRequest:         "CONNECT-REQUEST",
	TypeConnectResponse:        "CONNECT-RESPONSE",
	TypeConnectNotify:          "CONNECT-NOTIFY",
	TypeMessage:                "MESSAGE",
	TypeMessageBroadcast:       "MESSAGE-BROADCAST",
	TypeDisconnect:             "DISCONNECT",
	TypeDisconnectNotify:       "DISCONNECT-NOTIFY",
	TypePrivateRequest:         "PRIVATE-REQUEST",
	TypePrivateRequestNotify:   "PRIVATE-REQUEST-NOTIFY",
	TypePrivateAccept:          "PRIVATE-ACCEPT",
	TypePrivateEstablishSource: "PRIVATE-ESTABLISH-SOURCE",
	TypePrivateEstablishDest:   "PRIVATE-ESTABLISH-DEST",
	TypePrivatePorts:           "PRIVATE-PORTS",
	TypePrivateMessage:         "PRIVATE-MESSAGE",
	TypePrivateFile:            "PRIVATE-FILE",
	TypeError:                  "ERROR",
}

func (t Type) Valid() bool {
	return t < numTypes
}

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
	}
	return typeNames[t]
}

// ClientOriginated reports whether a client may send this type to the server.
func (t Type) ClientOriginated() bool {
	switch t {
	case TypeConnectRequest, TypeMessage, TypeDisconnect,
		TypePrivateRequest, TypePrivateAccept, TypePrivatePorts:
		return true
	}
	return false
}

// Message is a single decoded protocol unit. Which fields are meaningful
// depends on Type, see the catalog in the package documentation.
type Message struct {
	Type Type

	// Identity is the single identity field of the message: the name being
	// requested, the peer that joined, left, or sent a broadcast, the target or
	// requester of a private request, or the peer on the other side of a
	// rendezvous.
	Identity string

	Text     string
	Accepted bool

	Address     net.IP
	MessagePort uint16
	FilePort    uint16

	FileName string
	Size     int64

	Code ErrorCode
}

func (m *Message) String() string {
	return m.Type.String()
}

func NewConnectRequest(identity string) *Message {
	return &Message{Type: TypeConnectRequest, Identity: identity}
}

func NewConnectResponse(accepted bool) *Message {
	return &Message{Type: TypeConnectResponse, Accepted: accepted}
}

func NewConnectNotify(identity string) *Message {
	return &Message{Type: TypeConnectNotify, Identity: identity}
}

func NewMessage(text string) *Message {
	return &Message{Type: TypeMessage, Text: text}
}

func NewMessageBroadcast(from, text string) *Message {
	return &Message{Type: TypeMessageBroadcast, Identity: from, Text: text}
}

func NewDisconnect() *Message {
	return &Message{Type: TypeDisconnect}
}

func NewDisconnectNotify(identity string) *Message {
	return &Message{Type: TypeDisconnectNotify, Identity: identity}
}

func NewPrivateRequest(target string) *Message {
	return &Message{Type: TypePrivateRequest, Identity: target}
}

func NewPrivateRequestNotify(requester string) *Message {
	return &Message{Type: TypePrivateRequestNotify, Identity: requester}
}

func NewPrivateAccept(requester string) *Message {
	return &Message{Type: TypePrivateAccept, Identity: requester}
}

func NewPrivateEstablishSource(acceptor string, addr net.IP) *Message {
	return &Message{Type: TypePrivateEstablishSource, Identity: acceptor, Address: addr}
}

func NewPrivateEstablishDest(initiator string, addr net.IP, messagePort, filePort uint16) *Message {
	return &Message{
		Type:        TypePrivateEstablishDest,
		Identity:    initiator,
		Address:     addr,
		MessagePort: messagePort,
		FilePort:    filePort,
	}
}

func NewPrivatePorts(acceptor string, messagePort, filePort uint16) *Message {
	return &Message{
		Type:        TypePrivatePorts,
		Identity:    acceptor,
		MessagePort: messagePort,
		FilePort:    filePort,
	}
}

func NewPrivateMessage(text string) *Message {
	return &Message{Type: TypePrivateMessage, Text: text}
}

// NewPrivateFile builds the header of a file transfer. The size bytes of the
// file itself are sent raw right after it.
func NewPrivateFile(name string, size int64) *Message {
	return &Message{Type: TypePrivateFile, FileName: name, Size: size}
}

func NewError(code ErrorCode) *Message {
	return &Message{Type: TypeError, Code: code}
}

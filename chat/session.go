package chat

import (
	"net"

	"go.uber.org/zap"

	"github.com/luma/chatter/protocol"
)

// DefaultQueueLimit bounds a session's outgoing queue when no limit is given.
const DefaultQueueLimit = 64 * 1024

// Session is the server side of one client connection. It owns the connection's
// Decoder and outgoing byte queue; the socket itself belongs to the caller,
// which feeds received bytes to Receive and writes out what Outgoing returns.
type Session struct {
	id   uint64
	addr net.IP

	dir *Directory

	dec protocol.Decoder

	out   []byte
	limit int

	// identity is empty until the session authenticates and never changes after
	identity string
	key      string

	log *zap.Logger
}

// NewSession creates the session for a connection accepted from addr. It must
// be registered with a Directory before it receives anything.
func NewSession(id uint64, addr net.IP, queueLimit int, log *zap.Logger) *Session {
	if queueLimit <= 0 {
		queueLimit = DefaultQueueLimit
	}

	return &Session{
		id:    id,
		addr:  addr,
		limit: queueLimit,
		log:   log.With(zap.Uint64("session", id), zap.Stringer("addr", addr)),
	}
}

func (s *Session) ID() uint64 {
	return s.id
}

// Addr is the address the client connected from. It is what the other side of
// a rendezvous is told to use.
func (s *Session) Addr() net.IP {
	return s.addr
}

// Identity returns the session's display name, or "" before authentication.
func (s *Session) Identity() string {
	return s.identity
}

// Log is the session's logger, annotated with its id, address and identity.
func (s *Session) Log() *zap.Logger {
	return s.log
}

func (s *Session) Authenticated() bool {
	return s.identity != ""
}

// Receive feeds bytes read from the connection to the decoder and handles every
// message they complete.
//
// A non-nil error means the session is over and the connection must be torn
// down: ErrDisconnect after a DISCONNECT, or a protocol violation.
func (s *Session) Receive(p []byte) error {
	for len(p) > 0 {
		n, msg, err := s.dec.Feed(p)
		p = p[n:]

		if err != nil {
			return err
		}

		if msg == nil {
			continue
		}

		if err := s.handle(msg); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) handle(msg *protocol.Message) error {
	if ce := s.log.Check(zap.DebugLevel, "Received message"); ce != nil {
		ce.Write(zap.Stringer("type", msg.Type))
	}

	if !msg.Type.ClientOriginated() {
		return ErrUnexpectedMessage
	}

	if !s.Authenticated() {
		switch msg.Type {
		case protocol.TypeConnectRequest:
			s.dir.Authenticate(s, msg.Identity)

		case protocol.TypeDisconnect:
			return ErrDisconnect

		default:
			// Nothing but a name is negotiable before authentication
			s.Enqueue(protocol.NewConnectResponse(false))
		}

		return nil
	}

	switch msg.Type {
	case protocol.TypeConnectRequest:
		return ErrAlreadyAuthenticated

	case protocol.TypeMessage:
		s.dir.Broadcast(s, msg.Text)

	case protocol.TypeDisconnect:
		return ErrDisconnect

	case protocol.TypePrivateRequest:
		s.reject(s.dir.RequestPrivate(s, msg.Identity))

	case protocol.TypePrivateAccept:
		s.reject(s.dir.AcceptPrivate(s, msg.Identity))

	case protocol.TypePrivatePorts:
		s.reject(s.dir.CompletePrivate(s, msg.Identity, msg.MessagePort, msg.FilePort))
	}

	return nil
}

// reject answers a refused directory request with an ERROR.
func (s *Session) reject(err error) {
	if err == nil {
		return
	}

	s.log.Info("Rejected private channel request", zap.Error(err))
	s.Enqueue(protocol.NewError(ErrorCode(err)))
}

// Enqueue encodes msg onto the outgoing queue. It returns false if the message
// was dropped because the queue is full or the message could not be encoded.
func (s *Session) Enqueue(msg *protocol.Message) bool {
	b, err := msg.MarshalBinary()
	if err != nil {
		s.log.Warn("Failed to encode outgoing message",
			zap.Stringer("type", msg.Type),
			zap.Error(err))
		return false
	}

	return s.enqueueRaw(b, msg.Type)
}

func (s *Session) enqueueRaw(b []byte, t protocol.Type) bool {
	if len(s.out)+len(b) > s.limit {
		s.log.Warn("Outgoing queue full, dropping message",
			zap.Stringer("type", t),
			zap.Int("queued", len(s.out)),
			zap.Int("limit", s.limit))

		if s.dir != nil {
			s.dir.metrics.Dropped()
		}
		return false
	}

	s.out = append(s.out, b...)
	return true
}

// Outgoing returns the queued bytes that have not been written yet.
func (s *Session) Outgoing() []byte {
	return s.out
}

// WantsWrite reports whether the queue holds anything to write.
func (s *Session) WantsWrite() bool {
	return len(s.out) > 0
}

// Consume trims n written bytes from the front of the queue.
func (s *Session) Consume(n int) {
	if n >= len(s.out) {
		s.out = s.out[:0]
		return
	}

	s.out = s.out[:copy(s.out, s.out[n:])]
}

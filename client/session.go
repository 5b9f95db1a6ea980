package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/chatter/protocol"
)

// Session is a chat client: the public connection to the server plus the
// private links established with other members.
//
// Every connection gets its own goroutine blocked reading it. Any of them can
// end the session, after which Run closes every connection so the others
// unblock, and closes the Events channel once they have all returned.
type Session struct {
	conn net.Conn
	r    *protocol.Reader

	writeMu sync.Mutex

	identity string

	// links and pending are keyed by folded identity
	mu      sync.Mutex
	links   map[string]*link
	pending map[string]*rendezvous

	events chan Event

	// ctx is cancelled when the session ends, see finish
	ctx      context.Context
	cancel   context.CancelFunc
	exitOnce sync.Once
	exitErr  error
	leaving  atomic.Bool

	wg sync.WaitGroup

	options Options
	log     *zap.Logger
}

// New wraps an established connection to the server.
func New(conn net.Conn, options Options) *Session {
	options = options.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		conn:    conn,
		r:       protocol.NewReader(conn),
		links:   make(map[string]*link),
		pending: make(map[string]*rendezvous),
		events:  make(chan Event, options.EventBuffer),
		ctx:     ctx,
		cancel:  cancel,
		options: options,
		log:     options.Log.With(zap.Stringer("server", conn.RemoteAddr())),
	}
}

// Dial connects to the server at addr.
func Dial(ctx context.Context, addr string, options Options) (*Session, error) {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	return New(conn, options), nil
}

// Authenticate claims identity and waits for the server's answer. It must
// succeed before Run is called. ErrRejected means the identity is taken, the
// caller may try another one.
func (s *Session) Authenticate(ctx context.Context, identity string) error {
	if s.identity != "" {
		return fmt.Errorf("already authenticated as %q", s.identity)
	}

	if !protocol.ValidIdentity(identity) {
		return fmt.Errorf("%q: %w", identity, ErrInvalidIdentity)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		defer s.conn.SetReadDeadline(time.Time{})
	}

	if err := s.send(protocol.NewConnectRequest(identity)); err != nil {
		return err
	}

	for {
		msg, err := s.r.ReadMessage()
		if err != nil {
			return err
		}

		if msg.Type != protocol.TypeConnectResponse {
			s.log.Warn("Ignoring message before authentication", zap.Stringer("type", msg.Type))
			continue
		}

		if !msg.Accepted {
			return fmt.Errorf("%q: %w", identity, ErrRejected)
		}

		s.identity = identity
		s.log = s.log.With(zap.String("identity", identity))
		s.log.Info("Authenticated")

		return nil
	}
}

func (s *Session) Identity() string {
	return s.identity
}

// Events delivers what happens on the session. It is closed when Run returns.
// A consumer that stops reading eventually stalls the connection readers.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Run reads from the server until the session ends: ctx is done, Disconnect is
// called or a connection fails. It then closes every connection and waits for
// all readers to return.
func (s *Session) Run(ctx context.Context) error {
	if s.identity == "" {
		return ErrNotAuthenticated
	}

	s.wg.Add(1)
	go s.readPublic()

	select {
	case <-ctx.Done():
		s.finish(nil)
	case <-s.ctx.Done():
	}

	err := s.shutdown()
	s.wg.Wait()
	close(s.events)

	s.log.Info("Session ended", zap.Error(s.exitErr))

	return multierr.Append(s.exitErr, err)
}

// finish records why the session ended and wakes Run. Only the first call
// counts.
func (s *Session) finish(err error) {
	s.exitOnce.Do(func() {
		s.exitErr = err
		s.cancel()
	})
}

func (s *Session) exiting() bool {
	return s.ctx.Err() != nil
}

func (s *Session) shutdown() error {
	err := s.conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, r := range s.pending {
		err = multierr.Append(err, r.close())
		delete(s.pending, key)
	}

	for key, l := range s.links {
		err = multierr.Append(err, l.close())
		delete(s.links, key)
	}

	return err
}

// emit hands ev to the Events consumer, unless the session is ending.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) send(msg *protocol.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return protocol.WriteMessage(s.conn, msg)
}

// SendPublicMessage broadcasts text to every member, this session included.
func (s *Session) SendPublicMessage(text string) error {
	return s.send(protocol.NewMessage(text))
}

// OpenPrivate asks peer for a private link. The link is set up once the peer
// accepts, see EventPrivateEstablished.
func (s *Session) OpenPrivate(peer string) error {
	return s.send(protocol.NewPrivateRequest(peer))
}

// AcceptPrivate accepts a private link requested by peer.
func (s *Session) AcceptPrivate(peer string) error {
	return s.send(protocol.NewPrivateAccept(peer))
}

// Disconnect leaves the chat. Run returns nil once the server has hung up.
func (s *Session) Disconnect() error {
	s.leaving.Store(true)

	if err := s.send(protocol.NewDisconnect()); err != nil {
		s.finish(nil)
		return err
	}

	return nil
}

func (s *Session) readPublic() {
	defer s.wg.Done()

	log := s.log.Named("public")

	for {
		msg, err := s.r.ReadMessage()
		if err != nil {
			switch {
			case s.leaving.Load() || s.exiting():
				s.finish(nil)
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				s.finish(ErrConnectionLost)
			default:
				s.finish(fmt.Errorf("%w: %v", ErrConnectionLost, err))
			}
			return
		}

		if ce := log.Check(zap.DebugLevel, "Received message"); ce != nil {
			ce.Write(zap.Stringer("type", msg.Type))
		}

		switch msg.Type {
		case protocol.TypeConnectNotify:
			s.emit(Event{Kind: EventJoined, Peer: msg.Identity})

		case protocol.TypeDisconnectNotify:
			s.emit(Event{Kind: EventLeft, Peer: msg.Identity})

		case protocol.TypeMessageBroadcast:
			s.emit(Event{Kind: EventMessage, Peer: msg.Identity, Text: msg.Text})

		case protocol.TypePrivateRequestNotify:
			s.emit(Event{Kind: EventPrivateRequest, Peer: msg.Identity})

		case protocol.TypePrivateEstablishSource:
			s.listenPrivate(msg.Identity)

		case protocol.TypePrivateEstablishDest:
			s.wg.Add(1)
			go s.dialPrivate(msg.Identity, msg.Address, msg.MessagePort, msg.FilePort)

		case protocol.TypeError:
			s.emit(Event{Kind: EventError, Code: msg.Code, Err: fmt.Errorf("server error: %s", msg.Code)})

		default:
			log.Warn("Ignoring unexpected message", zap.Stringer("type", msg.Type))
		}
	}
}

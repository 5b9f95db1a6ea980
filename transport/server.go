package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luma/chatter/chat"
	"github.com/luma/chatter/internal/metrics"
	"github.com/luma/chatter/protocol"
)

const (
	readBufferSize = 16 * 1024

	// maxReadsPerEvent bounds how long one busy connection can hold the loop
	// before the others get a turn. Epoll is level triggered so the rest is
	// picked up on the next iteration.
	maxReadsPerEvent = 8

	maxEvents = 256

	readInterest  = unix.EPOLLIN | unix.EPOLLRDHUP
	writeInterest = unix.EPOLLOUT
)

var ErrServerClosed = errors.New("server closed")

type conn struct {
	fd       int
	session  *chat.Session
	interest uint32
}

// Server is the chat server core: a single goroutine, locked to its OS thread,
// multiplexing the listening socket and every client socket over epoll. All
// sockets are non-blocking, so a slow or silent client never stalls the others.
//
// Sessions and the directory are only touched by the loop goroutine. Other
// goroutines reach them through calls run on the loop, see Stats.
type Server struct {
	addr        string
	reuseport   bool
	maxSessions int
	queueLimit  int

	listener net.Listener
	lfile    *os.File
	lfd      int

	poller *Poller
	dir    *chat.Directory
	conns  map[int]*conn
	nextID uint64

	calls     chan func()
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewServer(options Options) *Server {
	maxSessions := options.MaxSessions
	if maxSessions < 1 {
		maxSessions = DefaultMaxSessions
	}

	queueLimit := options.QueueLimit
	if queueLimit < 1 {
		queueLimit = chat.DefaultQueueLimit
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		addr:        net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:   options.Reuseport,
		maxSessions: maxSessions,
		queueLimit:  queueLimit,
		conns:       make(map[int]*conn),
		calls:       make(chan func(), 16),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		metrics:     options.Metrics,
		log:         log,
		dir: chat.NewDirectory(chat.Options{
			Metrics: options.Metrics,
			Log:     log.Named("directory"),
		}),
	}
}

// Start binds the listening socket and starts the event loop. Failing to bind
// is the only error the server reports; everything that goes wrong with a
// client afterwards only ends that client's session.
//
// The server closes itself when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := s.listen(); err != nil {
		return err
	}

	poller, err := MakePoller()
	if err != nil {
		s.closeListener()
		return err
	}
	s.poller = poller

	if err := s.poller.Add(s.lfd, unix.EPOLLIN); err != nil {
		s.closeListener()
		s.poller.Close()
		return err
	}

	s.log.Info("Listening", zap.Stringer("addr", s.Addr()))

	go s.loop()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return nil
}

func (s *Server) listen() (err error) {
	if s.reuseport {
		s.listener, err = reuseport.Listen("tcp", s.addr)
	} else {
		s.listener, err = net.Listen("tcp", s.addr)
	}

	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	tl, ok := s.listener.(*net.TCPListener)
	if !ok {
		s.listener.Close()
		return fmt.Errorf("listening on %s: unexpected listener %T", s.addr, s.listener)
	}

	// The loop accepts on a duplicate of the listening socket that it owns
	// outright, instead of going through the runtime's poller.
	if s.lfile, err = tl.File(); err != nil {
		s.listener.Close()
		return err
	}

	s.lfd = int(s.lfile.Fd())
	if err := unix.SetNonblock(s.lfd, true); err != nil {
		s.closeListener()
		return err
	}

	return nil
}

// Addr is the address the server listens on.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops the loop, closes every client connection and the listener.
func (s *Server) Close() (err error) {
	s.closeOnce.Do(func() {
		s.log.Info("Stopping server")

		if s.poller == nil {
			close(s.done)
			return
		}

		close(s.stop)
		if werr := s.poller.Wake(); werr != nil {
			err = multierr.Append(err, werr)
		}

		<-s.done

		err = multierr.Append(err, s.closeListener())
		err = multierr.Append(err, s.poller.Close())

		s.log.Info("Server stopped")
	})

	return err
}

func (s *Server) closeListener() error {
	var err error
	if s.lfile != nil {
		err = multierr.Append(err, s.lfile.Close())
	}
	return multierr.Append(err, s.listener.Close())
}

// call runs fn on the loop goroutine and waits for it to finish.
func (s *Server) call(ctx context.Context, fn func()) error {
	if s.poller == nil {
		return ErrServerClosed
	}

	select {
	case <-s.done:
		return ErrServerClosed
	default:
	}

	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case s.calls <- wrapped:
	case <-s.done:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.poller.Wake(); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer close(s.done)

	events := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, readBufferSize)

	for {
		n, err := s.poller.Wait(events, -1)
		if err != nil {
			s.log.Error("Polling failed, stopping", zap.Error(err))
			s.closeAll()
			return
		}

		for _, ev := range events[:n] {
			switch fd := int(ev.Fd); {
			case s.poller.IsWake(ev):
				s.poller.ResetWake()
				if s.stopping() {
					s.closeAll()
					return
				}
				s.runCalls()

			case fd == s.lfd:
				s.acceptAll()

			default:
				c, ok := s.conns[fd]
				if !ok {
					continue
				}

				if ev.Events&unix.EPOLLOUT != 0 {
					if err := s.flush(c); err != nil {
						s.teardown(c, err)
						continue
					}
				}

				if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
					if err := s.fill(c, buf); err != nil {
						s.teardown(c, err)
						continue
					}
				}
			}
		}

		s.updateInterest()
	}
}

func (s *Server) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Server) runCalls() {
	for {
		select {
		case fn := <-s.calls:
			fn()
		default:
			return
		}
	}
}

func (s *Server) acceptAll() {
	for {
		fd, sa, err := unix.Accept4(s.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			default:
				// EMFILE and friends, try again on the next readiness event
				s.log.Warn("Failed to accept connection", zap.Error(err))
				return
			}
		}

		addr := sockaddrIP(sa)

		if len(s.conns) >= s.maxSessions {
			s.log.Warn("At capacity, refusing connection",
				zap.Stringer("addr", addr),
				zap.Int("maxSessions", s.maxSessions))

			unix.Close(fd)
			s.metrics.ConnectionRefused()
			continue
		}

		if err := s.poller.Add(fd, readInterest); err != nil {
			s.log.Warn("Failed to watch connection", zap.Stringer("addr", addr), zap.Error(err))
			unix.Close(fd)
			continue
		}

		s.nextID++
		session := chat.NewSession(s.nextID, addr, s.queueLimit, s.log.Named("session"))
		s.dir.Register(session)
		s.conns[fd] = &conn{fd: fd, session: session, interest: readInterest}

		s.metrics.SessionOpened()
		session.Log().Info("Accepted connection")
	}
}

// fill reads what the socket has to offer into the session.
func (s *Server) fill(c *conn, buf []byte) error {
	for i := 0; i < maxReadsPerEvent; i++ {
		n, err := unix.Read(c.fd, buf)
		switch {
		case err == unix.EAGAIN:
			return nil
		case err == unix.EINTR:
			continue
		case err != nil:
			return err
		case n == 0:
			return io.EOF
		}

		if err := c.session.Receive(buf[:n]); err != nil {
			return err
		}
	}

	return nil
}

// flush writes as much of the session's queue as the socket accepts.
func (s *Server) flush(c *conn) error {
	for c.session.WantsWrite() {
		n, err := unix.Write(c.fd, c.session.Outgoing())
		switch {
		case err == unix.EAGAIN:
			return nil
		case err == unix.EINTR:
			continue
		case err != nil:
			return err
		}

		c.session.Consume(n)
	}

	return nil
}

// updateInterest watches for writability exactly while a queue is non-empty.
// Any session may have had bytes queued by another one's broadcast, so all of
// them are checked.
func (s *Server) updateInterest() {
	for fd, c := range s.conns {
		interest := uint32(readInterest)
		if c.session.WantsWrite() {
			interest |= writeInterest
		}

		if interest == c.interest {
			continue
		}

		if err := s.poller.Modify(fd, interest); err != nil {
			s.teardown(c, err)
			continue
		}

		c.interest = interest
	}
}

// teardown ends a session, whatever the reason: a DISCONNECT, the peer going
// away, an I/O error or a protocol violation.
func (s *Server) teardown(c *conn, cause error) {
	log := c.session.Log()

	switch {
	case errors.Is(cause, chat.ErrDisconnect), errors.Is(cause, io.EOF):
		log.Info("Client disconnected")
	case protocol.IsViolation(cause):
		s.metrics.Violation()
		log.Warn("Protocol violation, closing connection", zap.Error(cause))
	default:
		log.Warn("Connection failed", zap.Error(cause))
	}

	s.poller.Remove(c.fd)
	if err := unix.Close(c.fd); err != nil {
		log.Warn("Connection did not close cleanly", zap.Error(err))
	}

	delete(s.conns, c.fd)
	s.dir.Remove(c.session)
	s.metrics.SessionClosed()
}

func (s *Server) closeAll() {
	for _, c := range s.conns {
		s.poller.Remove(c.fd)
		unix.Close(c.fd)
		delete(s.conns, c.fd)
		s.metrics.SessionClosed()
	}
}

func sockaddrIP(sa unix.Sockaddr) net.IP {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(append([]byte(nil), sa.Addr[:]...))
	case *unix.SockaddrInet6:
		ip := net.IP(append([]byte(nil), sa.Addr[:]...))
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
		return ip
	default:
		return nil
	}
}

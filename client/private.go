package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/luma/chatter/protocol"
)

// listenPrivate plays the initiator's part once the peer has accepted: listen
// for the two direct connections and tell the server where.
func (s *Session) listenPrivate(peer string) {
	log := s.log.With(zap.String("peer", peer))

	r, err := listenRendezvous(s.options.ListenHost, peer)
	if err != nil {
		log.Warn("Failed to listen for private link", zap.Error(err))
		s.emit(Event{Kind: EventPrivateFailed, Peer: peer, Err: err})
		return
	}

	key := protocol.FoldIdentity(peer)

	s.mu.Lock()
	if s.exiting() {
		s.mu.Unlock()
		r.close()
		return
	}

	if old, ok := s.pending[key]; ok {
		old.close()
	}
	s.pending[key] = r
	s.mu.Unlock()

	messagePort, filePort := r.ports()

	if err := s.send(protocol.NewPrivatePorts(peer, messagePort, filePort)); err != nil {
		s.dropRendezvous(key, r)
		s.emit(Event{Kind: EventPrivateFailed, Peer: peer, Err: err})
		return
	}

	log.Info("Waiting for private link",
		zap.Uint16("messagePort", messagePort),
		zap.Uint16("filePort", filePort))

	s.wg.Add(1)
	go s.awaitPeer(key, r)
}

func (s *Session) awaitPeer(key string, r *rendezvous) {
	defer s.wg.Done()

	if timeout := s.options.HandshakeTimeout; timeout > 0 {
		deadline := time.Now().Add(timeout)
		r.msg.SetDeadline(deadline)
		r.file.SetDeadline(deadline)
	}

	msg, err := r.msg.Accept()

	var file net.Conn
	if err == nil {
		if file, err = r.file.Accept(); err != nil {
			msg.Close()
		}
	}

	s.dropRendezvous(key, r)

	if err != nil {
		s.privateFailed(r.peer, err)
		return
	}

	s.establish(&link{
		peer:      r.peer,
		initiator: protocol.FoldIdentity(s.identity),
		msg:       msg,
		file:      file,
	})
}

// dialPrivate plays the acceptor's part: connect to the ports the initiator
// listens on.
func (s *Session) dialPrivate(peer string, addr net.IP, messagePort, filePort uint16) {
	defer s.wg.Done()

	dialer := net.Dialer{Timeout: s.options.HandshakeTimeout}
	host := addr.String()

	msg, err := dialer.DialContext(s.ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(messagePort))))
	if err != nil {
		s.privateFailed(peer, err)
		return
	}

	file, err := dialer.DialContext(s.ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(filePort))))
	if err != nil {
		msg.Close()
		s.privateFailed(peer, err)
		return
	}

	s.establish(&link{
		peer:      peer,
		initiator: protocol.FoldIdentity(peer),
		msg:       msg,
		file:      file,
	})
}

func (s *Session) privateFailed(peer string, err error) {
	if s.exiting() {
		return
	}

	s.log.Warn("Private link failed", zap.String("peer", peer), zap.Error(err))
	s.emit(Event{Kind: EventPrivateFailed, Peer: peer, Err: err})
}

func (s *Session) dropRendezvous(key string, r *rendezvous) {
	r.close()

	s.mu.Lock()
	if s.pending[key] == r {
		delete(s.pending, key)
	}
	s.mu.Unlock()
}

// establish adds l to the link table and starts reading both of its
// connections.
//
// When a link with the peer already exists, both members must settle on the
// same one: links asked for by different members keep the one whose initiator
// sorts first, otherwise the newer link replaces the older.
func (s *Session) establish(l *link) {
	key := protocol.FoldIdentity(l.peer)

	s.mu.Lock()
	if s.exiting() {
		s.mu.Unlock()
		l.close()
		return
	}

	if old, ok := s.links[key]; ok {
		if old.initiator < l.initiator {
			s.mu.Unlock()

			s.log.Info("Dropping duplicate private link", zap.String("peer", l.peer))
			l.close()
			return
		}

		delete(s.links, key)
		old.close()
	}
	s.links[key] = l
	s.mu.Unlock()

	s.log.Info("Private link established",
		zap.String("peer", l.peer),
		zap.Stringer("remote", l.msg.RemoteAddr()))

	s.emit(Event{Kind: EventPrivateEstablished, Peer: l.peer})

	s.wg.Add(2)
	go s.readPrivateMessages(l)
	go s.readPrivateFiles(l)
}

// unlink removes l from the table and closes it. It reports whether l was
// still there, so only the first of its readers to fail announces the end.
func (s *Session) unlink(l *link) bool {
	key := protocol.FoldIdentity(l.peer)

	s.mu.Lock()
	current, ok := s.links[key]
	if ok && current == l {
		delete(s.links, key)
	}
	s.mu.Unlock()

	l.close()
	return ok && current == l
}

func (s *Session) linkClosed(l *link, err error) {
	if !s.unlink(l) {
		return
	}

	if errors.Is(err, io.EOF) {
		err = nil
	}

	s.log.Info("Private link closed", zap.String("peer", l.peer), zap.Error(err))
	s.emit(Event{Kind: EventPrivateClosed, Peer: l.peer, Err: err})
}

func (s *Session) readPrivateMessages(l *link) {
	defer s.wg.Done()

	r := protocol.NewReader(l.msg)

	for {
		msg, err := r.ReadMessage()
		if err != nil {
			s.linkClosed(l, err)
			return
		}

		if msg.Type != protocol.TypePrivateMessage {
			s.linkClosed(l, fmt.Errorf("%w %s on message channel", ErrUnexpectedMessage, msg.Type))
			return
		}

		s.emit(Event{Kind: EventPrivateMessage, Peer: l.peer, Text: msg.Text})
	}
}

func (s *Session) readPrivateFiles(l *link) {
	defer s.wg.Done()

	r := protocol.NewReader(l.file)

	for {
		msg, err := r.ReadMessage()
		if err != nil {
			s.linkClosed(l, err)
			return
		}

		if msg.Type != protocol.TypePrivateFile {
			s.linkClosed(l, fmt.Errorf("%w %s on file channel", ErrUnexpectedMessage, msg.Type))
			return
		}

		path, err := s.saveFile(msg.FileName, msg.Size, r.Stream(msg.Size))
		if err != nil {
			// The stream can't be resynchronized after a partial read
			s.linkClosed(l, err)
			return
		}

		s.emit(Event{Kind: EventPrivateFile, Peer: l.peer, Path: path, Size: msg.Size})
	}
}

// saveFile writes a received file into the download directory under the base
// of its name only.
func (s *Session) saveFile(name string, size int64, stream io.Reader) (string, error) {
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("refusing file name %q", name)
	}

	path := filepath.Join(s.options.DownloadDir, base)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	n, err := io.Copy(f, stream)
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err == nil && n < size {
		err = io.ErrUnexpectedEOF
	}

	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("receiving %q, got %d of %d bytes: %w", base, n, size, err)
	}

	s.log.Info("Received file", zap.String("path", path), zap.Int64("size", size))

	return path, nil
}

func (s *Session) link(peer string) (*link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[protocol.FoldIdentity(peer)]
	if !ok {
		return nil, fmt.Errorf("%q: %w", peer, ErrNoLink)
	}

	return l, nil
}

// HasPrivate reports whether a private link with peer is established.
func (s *Session) HasPrivate(peer string) bool {
	_, err := s.link(peer)
	return err == nil
}

// SendPrivateMessage sends text straight to peer. It fails with ErrNoLink
// unless a private link with peer is established.
func (s *Session) SendPrivateMessage(peer, text string) error {
	l, err := s.link(peer)
	if err != nil {
		return err
	}

	l.msgMu.Lock()
	defer l.msgMu.Unlock()

	return protocol.WriteMessage(l.msg, protocol.NewPrivateMessage(text))
}

// SendPrivateFile streams the file at path to peer. It fails with ErrNoLink
// unless a private link with peer is established.
func (s *Session) SendPrivateFile(peer, path string) error {
	l, err := s.link(peer)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	return protocol.WriteFile(l.file, filepath.Base(path), info.Size(), f)
}

// ClosePrivate closes the private link with peer, or abandons the rendezvous
// in progress with it.
func (s *Session) ClosePrivate(peer string) error {
	key := protocol.FoldIdentity(peer)

	s.mu.Lock()
	l, linked := s.links[key]
	delete(s.links, key)

	r, waiting := s.pending[key]
	delete(s.pending, key)
	s.mu.Unlock()

	if !linked && !waiting {
		return fmt.Errorf("%q: %w", peer, ErrNoLink)
	}

	if waiting {
		r.close()
	}

	if linked {
		return l.close()
	}

	return nil
}

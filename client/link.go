package client

import (
	"net"
	"sync"

	"go.uber.org/multierr"
)

// link is an established private link: one connection for messages and one for
// files. Writers on each connection are serialized so messages and file
// streams never interleave.
type link struct {
	peer string

	// initiator is the folded identity of the member that asked for the link
	initiator string

	msg   net.Conn
	msgMu sync.Mutex

	file   net.Conn
	fileMu sync.Mutex

	closeOnce sync.Once
}

func (l *link) close() (err error) {
	l.closeOnce.Do(func() {
		err = multierr.Append(l.msg.Close(), l.file.Close())
	})
	return err
}

// rendezvous holds the listeners the initiating side of a private link opens
// for the acceptor to connect to.
type rendezvous struct {
	peer string

	msg  *net.TCPListener
	file *net.TCPListener

	closeOnce sync.Once
}

func listenRendezvous(host, peer string) (*rendezvous, error) {
	addr := net.JoinHostPort(host, "0")

	msg, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	file, err := net.Listen("tcp", addr)
	if err != nil {
		msg.Close()
		return nil, err
	}

	return &rendezvous{
		peer: peer,
		msg:  msg.(*net.TCPListener),
		file: file.(*net.TCPListener),
	}, nil
}

func (r *rendezvous) ports() (messagePort, filePort uint16) {
	return uint16(r.msg.Addr().(*net.TCPAddr).Port), uint16(r.file.Addr().(*net.TCPAddr).Port)
}

func (r *rendezvous) close() (err error) {
	r.closeOnce.Do(func() {
		err = multierr.Append(r.msg.Close(), r.file.Close())
	})
	return err
}

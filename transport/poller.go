package transport

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// Poller is a thin wrapper around an epoll instance, plus an eventfd that other
// goroutines use to wake the loop blocked in Wait.
type Poller struct {
	fd     int
	wakeFd int
}

func MakePoller() (*Poller, error) {
	var (
		poller Poller
		err    error
	)

	// https://man7.org/linux/man-pages/man2/epoll_create.2.html
	poller.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	// https://man7.org/linux/man-pages/man2/eventfd.2.html
	poller.wakeFd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(poller.fd)
		return nil, err
	}

	if err := poller.Add(poller.wakeFd, unix.EPOLLIN); err != nil {
		poller.Close()
		return nil, err
	}

	return &poller, nil
}

// Add starts watching fd for events.
// https://man7.org/linux/man-pages/man2/epoll_ctl.2.html
func (p *Poller) Add(fd int, events uint32) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

// Modify replaces the events fd is watched for.
func (p *Poller) Modify(fd int, events uint32) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

func (p *Poller) Remove(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one watched fd is ready, or msec milliseconds have
// passed (-1 waits forever), and fills events. Interrupted waits are retried.
func (p *Poller) Wait(events []unix.EpollEvent, msec int) (int, error) {
	for {
		n, err := unix.EpollWait(p.fd, events, msec)
		if err == unix.EINTR {
			continue
		}

		return n, err
	}
}

// Wake makes a blocked Wait return with an event for the wake fd. It is safe to
// call from any goroutine.
func (p *Poller) Wake() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)

	_, err := unix.Write(p.wakeFd, one[:])
	if err == unix.EAGAIN {
		// counter is saturated, a wake up is already pending
		return nil
	}

	return err
}

// IsWake reports whether an event belongs to the wake fd.
func (p *Poller) IsWake(ev unix.EpollEvent) bool {
	return int(ev.Fd) == p.wakeFd
}

// ResetWake clears pending wake ups.
func (p *Poller) ResetWake() {
	var buf [8]byte
	unix.Read(p.wakeFd, buf[:])
}

func (p *Poller) Close() error {
	if err := unix.Close(p.wakeFd); err != nil {
		return err
	}

	return unix.Close(p.fd)
}

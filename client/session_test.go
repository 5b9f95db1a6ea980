package client_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/chatter/client"
	"github.com/luma/chatter/protocol"
	"github.com/luma/chatter/transport"
)

var _ = Describe("Session", func() {
	var (
		server   *transport.Server
		tmp      string
		alice    *member
		bob      *member
		aliceDir string
		bobDir   string
	)

	BeforeEach(func() {
		var err error
		tmp, err = os.MkdirTemp("", "chatter-client")
		Expect(err).To(Succeed())

		aliceDir = filepath.Join(tmp, "alice")
		bobDir = filepath.Join(tmp, "bob")
		Expect(os.Mkdir(aliceDir, 0750)).To(Succeed())
		Expect(os.Mkdir(bobDir, 0750)).To(Succeed())

		server = startServer()

		alice = join(server, "alice", aliceDir)
		bob = join(server, "bob", bobDir)
		Expect(expectEvent(alice, client.EventJoined).Peer).To(Equal("bob"))
	})

	AfterEach(func() {
		alice.stop()
		bob.stop()
		Expect(server.Close()).To(Succeed())
		Expect(os.RemoveAll(tmp)).To(Succeed())
	})

	It("rejects an identity that is taken and allows another attempt", func() {
		s := dial(server, tmp)

		err := s.Authenticate(context.Background(), "Alice")
		Expect(err).To(MatchError(client.ErrRejected))

		Expect(s.Authenticate(context.Background(), "carol")).To(Succeed())
		Expect(s.Identity()).To(Equal("carol"))
	})

	It("refuses to send an invalid identity", func() {
		s := dial(server, tmp)

		Expect(s.Authenticate(context.Background(), "")).To(MatchError(client.ErrInvalidIdentity))
		Expect(s.Authenticate(context.Background(), strings.Repeat("a", 33))).To(MatchError(client.ErrInvalidIdentity))
	})

	It("won't run before authenticating", func() {
		s := dial(server, tmp)
		Expect(s.Run(context.Background())).To(MatchError(client.ErrNotAuthenticated))
	})

	It("delivers public messages to everyone including the sender", func() {
		Expect(alice.SendPublicMessage("hi")).To(Succeed())

		for _, m := range []*member{alice, bob} {
			ev := expectEvent(m, client.EventMessage)
			Expect(ev.Peer).To(Equal("alice"))
			Expect(ev.Text).To(Equal("hi"))
		}
	})

	It("reports server errors", func() {
		Expect(alice.OpenPrivate("nobody")).To(Succeed())

		ev := expectEvent(alice, client.EventError)
		Expect(ev.Code).To(Equal(protocol.ErrorUnknownTarget))
	})

	It("refuses private traffic without a link", func() {
		Expect(alice.HasPrivate("bob")).To(BeFalse())
		Expect(alice.SendPrivateMessage("bob", "psst")).To(MatchError(client.ErrNoLink))
		Expect(alice.SendPrivateFile("bob", "/etc/hostname")).To(MatchError(client.ErrNoLink))
		Expect(alice.ClosePrivate("bob")).To(MatchError(client.ErrNoLink))
	})

	Describe("private links", func() {
		BeforeEach(func() {
			link(alice, bob)
		})

		It("establishes the link on both sides", func() {
			Expect(alice.HasPrivate("bob")).To(BeTrue())
			Expect(alice.HasPrivate("BOB")).To(BeTrue())
			Expect(bob.HasPrivate("alice")).To(BeTrue())
		})

		It("carries messages both ways", func() {
			Expect(alice.SendPrivateMessage("bob", "psst")).To(Succeed())

			ev := expectEvent(bob, client.EventPrivateMessage)
			Expect(ev.Peer).To(Equal("alice"))
			Expect(ev.Text).To(Equal("psst"))

			Expect(bob.SendPrivateMessage("alice", "what")).To(Succeed())

			ev = expectEvent(alice, client.EventPrivateMessage)
			Expect(ev.Peer).To(Equal("bob"))
			Expect(ev.Text).To(Equal("what"))
		})

		It("transfers files into the download directory", func() {
			content := strings.Repeat("0123456789", 10000)
			source := filepath.Join(aliceDir, "notes.txt")
			Expect(os.WriteFile(source, []byte(content), 0600)).To(Succeed())

			Expect(alice.SendPrivateFile("bob", source)).To(Succeed())

			ev := expectEvent(bob, client.EventPrivateFile)
			Expect(ev.Peer).To(Equal("alice"))
			Expect(ev.Size).To(Equal(int64(len(content))))
			Expect(ev.Path).To(Equal(filepath.Join(bobDir, "notes.txt")))

			received, err := os.ReadFile(ev.Path)
			Expect(err).To(Succeed())
			Expect(string(received)).To(Equal(content))
		})

		It("keeps messages flowing while a file is sent", func() {
			source := filepath.Join(aliceDir, "empty")
			Expect(os.WriteFile(source, nil, 0600)).To(Succeed())

			Expect(alice.SendPrivateFile("bob", source)).To(Succeed())
			Expect(alice.SendPrivateMessage("bob", "sent you nothing")).To(Succeed())

			Expect(expectEvent(bob, client.EventPrivateFile).Size).To(BeZero())
			Expect(expectEvent(bob, client.EventPrivateMessage).Text).To(Equal("sent you nothing"))
		})

		It("tells the peer when the link is closed", func() {
			Expect(alice.ClosePrivate("bob")).To(Succeed())
			Expect(alice.HasPrivate("bob")).To(BeFalse())

			Expect(expectEvent(bob, client.EventPrivateClosed).Peer).To(Equal("alice"))
			Expect(bob.HasPrivate("alice")).To(BeFalse())
		})

		It("can be negotiated again after closing", func() {
			Expect(bob.ClosePrivate("alice")).To(Succeed())
			expectEvent(alice, client.EventPrivateClosed)

			link(bob, alice)

			Expect(bob.SendPrivateMessage("alice", "again")).To(Succeed())
			Expect(expectEvent(alice, client.EventPrivateMessage).Text).To(Equal("again"))
		})
	})

	It("announces a link before anything sent over it", func() {
		Expect(alice.OpenPrivate("bob")).To(Succeed())
		Expect(expectEvent(bob, client.EventPrivateRequest).Peer).To(Equal("alice"))
		Expect(bob.AcceptPrivate("alice")).To(Succeed())

		Expect(expectEvent(bob, client.EventPrivateEstablished).Peer).To(Equal("alice"))
		Expect(bob.SendPrivateMessage("alice", "first")).To(Succeed())

		// Nothing else happens on alice's side meanwhile
		var kinds []client.EventKind
		for len(kinds) < 2 {
			var ev client.Event
			Eventually(alice.Events(), 5*time.Second).Should(Receive(&ev))
			kinds = append(kinds, ev.Kind)
		}

		Expect(kinds).To(Equal([]client.EventKind{client.EventPrivateEstablished, client.EventPrivateMessage}))
	})

	It("ends up with one link when both members ask each other at once", func() {
		Expect(alice.OpenPrivate("bob")).To(Succeed())
		Expect(bob.OpenPrivate("alice")).To(Succeed())

		// Only the request that reached the server first is pending, the
		// accept for the other one is refused
		Expect(alice.AcceptPrivate("bob")).To(Succeed())
		Expect(bob.AcceptPrivate("alice")).To(Succeed())

		Eventually(linked(alice, bob), 5*time.Second).Should(BeTrue())
		Consistently(linked(alice, bob), 300*time.Millisecond).Should(BeTrue())

		Expect(alice.SendPrivateMessage("bob", "one link")).To(Succeed())
		Expect(expectEvent(bob, client.EventPrivateMessage).Text).To(Equal("one link"))

		Expect(bob.SendPrivateMessage("alice", "agreed")).To(Succeed())
		Expect(expectEvent(alice, client.EventPrivateMessage).Text).To(Equal("agreed"))
	})

	It("ends cleanly on Disconnect", func() {
		Expect(bob.Disconnect()).To(Succeed())

		Eventually(bob.done, 5*time.Second).Should(BeClosed())
		Expect(bob.err).To(Succeed())
		Eventually(bob.Events()).Should(BeClosed())

		Expect(expectEvent(alice, client.EventLeft).Peer).To(Equal("bob"))
	})

	It("ends with ErrConnectionLost when the server goes away", func() {
		Expect(server.Close()).To(Succeed())

		Eventually(alice.done, 5*time.Second).Should(BeClosed())
		Expect(alice.err).To(MatchError(client.ErrConnectionLost))
	})
})

var _ = Describe("Session handshake timeout", func() {
	var (
		server *transport.Server
		alice  *member
		bob    *wire
	)

	BeforeEach(func() {
		server = startServer()

		alice = joinWith(server.Addr().String(), "alice", client.Options{
			DownloadDir:      os.TempDir(),
			HandshakeTimeout: 100 * time.Millisecond,
		})
		bob = joinWire(server, "bob")
	})

	AfterEach(func() {
		alice.stop()
		bob.conn.Close()
		Expect(server.Close()).To(Succeed())
	})

	It("gives up on a peer that never connects", func() {
		Expect(alice.OpenPrivate("bob")).To(Succeed())

		Expect(bob.expect(protocol.TypePrivateRequestNotify).Identity).To(Equal("alice"))
		bob.send(protocol.NewPrivateAccept("alice"))

		// Told where to connect, and never does
		dest := bob.expect(protocol.TypePrivateEstablishDest)
		Expect(dest.Identity).To(Equal("alice"))
		Expect(dest.MessagePort).NotTo(BeZero())

		ev := expectEvent(alice, client.EventPrivateFailed)
		Expect(ev.Peer).To(Equal("bob"))

		var netErr net.Error
		Expect(errors.As(ev.Err, &netErr)).To(BeTrue())
		Expect(netErr.Timeout()).To(BeTrue())

		Expect(alice.HasPrivate("bob")).To(BeFalse())
		Expect(alice.ClosePrivate("bob")).To(MatchError(client.ErrNoLink))
	})
})

var _ = Describe("Session crossed rendezvous", func() {
	var (
		relay      *relay
		tmp        string
		alice, bob *member
		toAlice    *wire
		toBob      *wire
	)

	BeforeEach(func() {
		var err error
		tmp, err = os.MkdirTemp("", "chatter-relay")
		Expect(err).To(Succeed())

		relay = newRelay()
		alice, toAlice = relay.admit("alice", tmp)
		bob, toBob = relay.admit("bob", tmp)
	})

	AfterEach(func() {
		alice.stop()
		bob.stop()
		relay.close()
		Expect(os.RemoveAll(tmp)).To(Succeed())
	})

	It("keeps the link asked for by the member sorting first on both sides", func() {
		// Both rendezvous run to completion at the same time
		toAlice.send(protocol.NewPrivateEstablishSource("bob", loopback))
		toBob.send(protocol.NewPrivateEstablishSource("alice", loopback))

		alicePorts := toAlice.expect(protocol.TypePrivatePorts)
		Expect(alicePorts.Identity).To(Equal("bob"))
		bobPorts := toBob.expect(protocol.TypePrivatePorts)
		Expect(bobPorts.Identity).To(Equal("alice"))

		toBob.send(protocol.NewPrivateEstablishDest("alice", loopback, alicePorts.MessagePort, alicePorts.FilePort))
		toAlice.send(protocol.NewPrivateEstablishDest("bob", loopback, bobPorts.MessagePort, bobPorts.FilePort))

		Eventually(linked(alice, bob), 5*time.Second).Should(BeTrue())
		Consistently(linked(alice, bob), 300*time.Millisecond).Should(BeTrue())

		Expect(alice.SendPrivateMessage("bob", "still here")).To(Succeed())
		Expect(expectEvent(bob, client.EventPrivateMessage).Text).To(Equal("still here"))

		Expect(bob.SendPrivateMessage("alice", "me too")).To(Succeed())
		Expect(expectEvent(alice, client.EventPrivateMessage).Text).To(Equal("me too"))
	})
})

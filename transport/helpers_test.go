package transport_test

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/chatter/protocol"
	"github.com/luma/chatter/transport"
)

type testClient struct {
	conn net.Conn
	r    *protocol.Reader
}

func makeServer(options transport.Options) *transport.Server {
	log, err := zap.NewDevelopment()
	Expect(err).To(Succeed())

	options.Host = "127.0.0.1"
	options.Log = log

	server := transport.NewServer(options)
	Expect(server.Start(context.Background())).To(Succeed())

	return server
}

func dial(server *transport.Server) *testClient {
	conn, err := net.Dial("tcp", server.Addr().String())
	Expect(err).To(Succeed())

	return &testClient{conn: conn, r: protocol.NewReader(conn)}
}

func (c *testClient) send(msg *protocol.Message) {
	Expect(protocol.WriteMessage(c.conn, msg)).To(Succeed())
}

func (c *testClient) receive() *protocol.Message {
	Expect(c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

	msg, err := c.r.ReadMessage()
	Expect(err).To(Succeed())
	return msg
}

// expectSilence checks nothing else arrives for a short while.
func (c *testClient) expectSilence() {
	Expect(c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))).To(Succeed())

	_, err := c.r.ReadMessage()
	netErr, ok := err.(net.Error)
	Expect(ok).To(BeTrue(), "expected a timeout, got %v", err)
	Expect(netErr.Timeout()).To(BeTrue())
}

// join connects and authenticates, consuming the response and the client's
// own join notification.
func join(server *transport.Server, identity string) *testClient {
	c := dial(server)
	c.send(protocol.NewConnectRequest(identity))

	Expect(c.receive()).To(Equal(protocol.NewConnectResponse(true)))
	Expect(c.receive()).To(Equal(protocol.NewConnectNotify(identity)))

	return c
}

func waitForClose(conn net.Conn) {
	// Wait for our client to be disconnected by the server
	timeout := time.After(10 * time.Second)
	one := make([]byte, 1)

	for {
		select {
		case <-timeout:
			Fail("The client was never closed by the server")
			return

		default:
			Expect(conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))).To(Succeed())

			_, err := conn.Read(one)
			if err == nil {
				continue
			}

			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			// EOF or reset, either way the server hung up
			return
		}
	}
}

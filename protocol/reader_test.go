package protocol_test

import (
	"bytes"
	"io"
	"testing/iotest"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/chatter/protocol"
)

var _ = Describe("Reader", func() {
	It("reads consecutive messages", func() {
		w := &bytes.Buffer{}
		Expect(protocol.WriteMessage(w, protocol.NewConnectResponse(true))).To(Succeed())
		Expect(protocol.WriteMessage(w, protocol.NewConnectNotify("alice"))).To(Succeed())

		r := protocol.NewReader(w)

		msg, err := r.ReadMessage()
		Expect(err).To(Succeed())
		Expect(msg).To(Equal(protocol.NewConnectResponse(true)))

		msg, err = r.ReadMessage()
		Expect(err).To(Succeed())
		Expect(msg).To(Equal(protocol.NewConnectNotify("alice")))

		_, err = r.ReadMessage()
		Expect(err).To(MatchError(io.EOF))
	})

	It("reads messages arriving one byte at a time", func() {
		w := &bytes.Buffer{}
		Expect(protocol.WriteMessage(w, protocol.NewMessageBroadcast("bob", "hi"))).To(Succeed())

		r := protocol.NewReader(iotest.OneByteReader(w))
		msg, err := r.ReadMessage()
		Expect(err).To(Succeed())
		Expect(msg).To(Equal(protocol.NewMessageBroadcast("bob", "hi")))
	})

	It("returns io.ErrUnexpectedEOF when the stream ends mid message", func() {
		b, err := protocol.NewMessage("cut short").MarshalBinary()
		Expect(err).To(Succeed())

		r := protocol.NewReader(bytes.NewReader(b[:len(b)-2]))
		_, err = r.ReadMessage()
		Expect(err).To(MatchError(io.ErrUnexpectedEOF))
	})

	It("hands the raw file stream over and resumes decoding after it", func() {
		w := &bytes.Buffer{}
		Expect(protocol.WriteFile(w, "f.bin", 4, bytes.NewReader([]byte{1, 2, 3, 4}))).To(Succeed())
		Expect(protocol.WriteMessage(w, protocol.NewPrivateMessage("after"))).To(Succeed())

		r := protocol.NewReader(w)

		header, err := r.ReadMessage()
		Expect(err).To(Succeed())
		Expect(header.Type).To(Equal(protocol.TypePrivateFile))
		Expect(header.Size).To(Equal(int64(4)))

		body, err := io.ReadAll(r.Stream(header.Size))
		Expect(err).To(Succeed())
		Expect(body).To(Equal([]byte{1, 2, 3, 4}))

		msg, err := r.ReadMessage()
		Expect(err).To(Succeed())
		Expect(msg.Text).To(Equal("after"))
	})

	It("surfaces protocol violations", func() {
		r := protocol.NewReader(bytes.NewReader([]byte{0, 0, 1, 0}))
		_, err := r.ReadMessage()
		Expect(protocol.IsViolation(err)).To(BeTrue())
	})
})

package protocol_test

import (
	"bytes"
	"errors"
	"net"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/chatter/protocol"
)

var _ = Describe("Writer", func() {
	Describe("WriteMessage", func() {
		It("prefixes the message with its big-endian type code", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteMessage(w, protocol.NewDisconnect())).To(Succeed())
			Expect(w.Bytes()).To(Equal([]byte{0, 0, 0, 5}))
		})

		It("length prefixes text by encoded bytes, not characters", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteMessage(w, protocol.NewMessage("hé"))).To(Succeed())
			Expect(w.Bytes()).To(Equal([]byte{0, 0, 0, 3, 0, 0, 0, 3, 'h', 0xc3, 0xa9}))
		})

		It("encodes IPv4 addresses as 4 bytes", func() {
			w := bytes.NewBuffer([]byte{})

			msg := protocol.NewPrivateEstablishSource("b", net.ParseIP("192.168.1.7"))
			Expect(protocol.WriteMessage(w, msg)).To(Succeed())
			Expect(w.String()).To(HaveSuffix(string([]byte{0, 0, 0, 4, 192, 168, 1, 7})))
		})

		It("encodes the accepted flag as a single byte", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteMessage(w, protocol.NewConnectResponse(true))).To(Succeed())
			Expect(w.Bytes()).To(Equal([]byte{0, 0, 0, 1, 1}))
		})

		It("refuses identities longer than 32 bytes", func() {
			err := protocol.WriteMessage(&bytes.Buffer{}, protocol.NewConnectRequest(strings.Repeat("a", 33)))
			Expect(errors.Is(err, protocol.ErrFieldTooLong)).To(BeTrue())
		})

		It("refuses text longer than 512 bytes", func() {
			err := protocol.WriteMessage(&bytes.Buffer{}, protocol.NewMessage(strings.Repeat("a", 513)))
			Expect(errors.Is(err, protocol.ErrFieldTooLong)).To(BeTrue())
		})

		It("refuses a missing address", func() {
			err := protocol.WriteMessage(&bytes.Buffer{}, protocol.NewPrivateEstablishSource("b", nil))
			Expect(errors.Is(err, protocol.ErrInvalidAddress)).To(BeTrue())
		})

		It("leaves the buffer untouched when encoding fails", func() {
			buf := []byte("prefix")
			out, err := protocol.AppendMessage(buf, protocol.NewMessage(strings.Repeat("a", 600)))
			Expect(err).To(HaveOccurred())
			Expect(out).To(Equal([]byte("prefix")))
		})
	})

	Describe("WriteFile", func() {
		It("writes the header followed by exactly size raw bytes", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteFile(w, "a.txt", 5, strings.NewReader("hello, and more"))).To(Succeed())

			header, err := protocol.NewPrivateFile("a.txt", 5).MarshalBinary()
			Expect(err).To(Succeed())
			Expect(w.Bytes()).To(Equal(append(header, "hello"...)))
		})

		It("fails when the source is shorter than the declared size", func() {
			err := protocol.WriteFile(&bytes.Buffer{}, "a.txt", 10, strings.NewReader("short"))
			Expect(err).To(HaveOccurred())
		})
	})
})

package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"strings"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/luma/chatter/protocol"
)

var catalog = []*protocol.Message{
	protocol.NewConnectRequest("alice"),
	protocol.NewConnectResponse(true),
	protocol.NewConnectResponse(false),
	protocol.NewConnectNotify("bob"),
	protocol.NewMessage("hello, world"),
	protocol.NewMessage(""),
	protocol.NewMessageBroadcast("alice", "héllo"),
	protocol.NewDisconnect(),
	protocol.NewDisconnectNotify("bob"),
	protocol.NewPrivateRequest("bob"),
	protocol.NewPrivateRequestNotify("alice"),
	protocol.NewPrivateAccept("alice"),
	protocol.NewPrivateEstablishSource("bob", net.IPv4(10, 0, 0, 2).To4()),
	protocol.NewPrivateEstablishSource("bob", net.ParseIP("2001:db8::1")),
	protocol.NewPrivateEstablishDest("alice", net.IPv4(10, 0, 0, 1).To4(), 40001, 40002),
	protocol.NewPrivatePorts("bob", 40001, 65535),
	protocol.NewPrivateMessage("psst"),
	protocol.NewPrivateFile("notes.txt", 1<<40),
	protocol.NewError(protocol.ErrorNoPendingRequest),
}

func encode(m *protocol.Message) []byte {
	b, err := m.MarshalBinary()
	Expect(err).To(Succeed())
	return b
}

// feedAll feeds every chunk and collects the messages that come out.
func feedAll(d *protocol.Decoder, chunks ...[]byte) ([]*protocol.Message, error) {
	var msgs []*protocol.Message

	for _, chunk := range chunks {
		for len(chunk) > 0 {
			n, msg, err := d.Feed(chunk)
			if err != nil {
				return msgs, err
			}

			chunk = chunk[n:]
			if msg != nil {
				msgs = append(msgs, msg)
			}
		}
	}

	return msgs, nil
}

// raw builds a message by hand so limits can be broken on purpose.
func raw(t protocol.Type, fields ...[]byte) []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(t))
	for _, f := range fields {
		b = append(b, f...)
	}
	return b
}

func text(s string) []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(len(s)))
	return append(b, s...)
}

func u32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

var _ = Describe("Decoder", func() {
	Describe("round trips", func() {
		for _, m := range catalog {
			m := m

			It("decodes "+m.Type.String()+" as it was encoded", func() {
				var d protocol.Decoder
				msgs, err := feedAll(&d, encode(m))
				Expect(err).To(Succeed())
				Expect(msgs).To(Equal([]*protocol.Message{m}))
			})

			It("decodes "+m.Type.String()+" split at every byte boundary", func() {
				b := encode(m)

				for i := 0; i <= len(b); i++ {
					var d protocol.Decoder
					msgs, err := feedAll(&d, b[:i], b[i:])
					Expect(err).To(Succeed())
					Expect(msgs).To(Equal([]*protocol.Message{m}), "split at %d", i)
					Expect(d.InProgress()).To(BeFalse())
				}
			})

			It("decodes "+m.Type.String()+" fed one byte at a time", func() {
				b := encode(m)
				var d protocol.Decoder

				var msgs []*protocol.Message
				for i := range b {
					n, msg, err := d.Feed(b[i : i+1])
					Expect(err).To(Succeed())
					Expect(n).To(Equal(1))

					if msg != nil {
						Expect(i).To(Equal(len(b)-1), "message completed early")
						msgs = append(msgs, msg)
					}
				}

				Expect(msgs).To(Equal([]*protocol.Message{m}))
			})
		}
	})

	It("decodes many messages delivered in a single read", func() {
		var stream []byte
		for _, m := range catalog {
			if m.Type == protocol.TypePrivateFile {
				// followed by a raw stream
				continue
			}
			stream = append(stream, encode(m)...)
		}

		var d protocol.Decoder
		msgs, err := feedAll(&d, stream)
		Expect(err).To(Succeed())
		Expect(msgs).To(HaveLen(len(catalog) - 1))
	})

	It("stops at the end of a message and leaves the rest unconsumed", func() {
		first := encode(protocol.NewMessage("one"))
		second := encode(protocol.NewMessage("two"))

		var d protocol.Decoder
		n, msg, err := d.Feed(append(append([]byte{}, first...), second...))
		Expect(err).To(Succeed())
		Expect(n).To(Equal(len(first)))
		Expect(msg.Text).To(Equal("one"))
	})

	It("reports a partially received message as in progress", func() {
		b := encode(protocol.NewMessage("partial"))

		var d protocol.Decoder
		n, msg, err := d.Feed(b[:6])
		Expect(err).To(Succeed())
		Expect(n).To(Equal(6))
		Expect(msg).To(BeNil())
		Expect(d.InProgress()).To(BeTrue())
	})

	It("rejects an unknown type code", func() {
		var d protocol.Decoder
		_, msg, err := d.Feed(u32(16))
		Expect(msg).To(BeNil())
		Expect(errors.Is(err, protocol.ErrUnknownType)).To(BeTrue())
		Expect(protocol.IsViolation(err)).To(BeTrue())
	})

	table.DescribeTable("length limits",
		func(msg []byte, ok bool) {
			var d protocol.Decoder
			msgs, err := feedAll(&d, msg)

			if ok {
				Expect(err).To(Succeed())
				Expect(msgs).To(HaveLen(1))
			} else {
				Expect(errors.Is(err, protocol.ErrFieldTooLong)).To(BeTrue())
				Expect(msgs).To(BeEmpty())
			}
		},
		table.Entry("32 byte identity", raw(protocol.TypeConnectRequest, text(strings.Repeat("a", 32))), true),
		table.Entry("33 byte identity", raw(protocol.TypeConnectRequest, text(strings.Repeat("a", 33))), false),
		table.Entry("32 byte multi-byte identity", raw(protocol.TypeConnectRequest, text(strings.Repeat("é", 16))), true),
		table.Entry("33 byte multi-byte identity", raw(protocol.TypeConnectRequest, text(strings.Repeat("é", 16)+"a")), false),
		table.Entry("512 byte text", raw(protocol.TypeMessage, text(strings.Repeat("x", 512))), true),
		table.Entry("513 byte text", raw(protocol.TypeMessage, text(strings.Repeat("x", 513))), false),
		table.Entry("255 byte file name", raw(protocol.TypePrivateFile, text(strings.Repeat("f", 255)), make([]byte, 8)), true),
		table.Entry("256 byte file name", raw(protocol.TypePrivateFile, text(strings.Repeat("f", 256)), make([]byte, 8)), false),
	)

	It("rejects an over long field as soon as its length prefix arrives", func() {
		var d protocol.Decoder
		_, _, err := d.Feed(raw(protocol.TypeMessage, u32(513)))
		Expect(errors.Is(err, protocol.ErrFieldTooLong)).To(BeTrue())
	})

	It("rejects text that is not UTF-8", func() {
		var d protocol.Decoder
		_, err := feedAll(&d, raw(protocol.TypeMessage, text("\xff\xfe")))
		Expect(errors.Is(err, protocol.ErrInvalidUTF8)).To(BeTrue())
	})

	It("rejects addresses that are neither IPv4 nor IPv6", func() {
		var d protocol.Decoder
		_, err := feedAll(&d, raw(protocol.TypePrivateEstablishSource, text("bob"), u32(5), make([]byte, 5)))
		Expect(errors.Is(err, protocol.ErrInvalidAddress)).To(BeTrue())
	})

	It("rejects ports that do not fit in 16 bits", func() {
		var d protocol.Decoder
		_, err := feedAll(&d, raw(protocol.TypePrivatePorts, text("bob"), u32(70000), u32(1)))
		Expect(errors.Is(err, protocol.ErrInvalidPort)).To(BeTrue())
	})

	It("rejects negative file sizes", func() {
		var d protocol.Decoder
		_, err := feedAll(&d, raw(protocol.TypePrivateFile, text("f"), bytes.Repeat([]byte{0xff}, 8)))
		Expect(errors.Is(err, protocol.ErrInvalidSize)).To(BeTrue())
	})

	It("can be reused after a violation once reset", func() {
		var d protocol.Decoder
		_, _, err := d.Feed(u32(99))
		Expect(err).To(HaveOccurred())

		msgs, err := feedAll(&d, encode(protocol.NewDisconnect()))
		Expect(err).To(Succeed())
		Expect(msgs).To(Equal([]*protocol.Message{protocol.NewDisconnect()}))
	})
})

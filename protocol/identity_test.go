package protocol_test

import (
	"strings"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/luma/chatter/protocol"
)

var _ = Describe("Identity", func() {
	It("folds identities that differ only in case to the same key", func() {
		Expect(protocol.FoldIdentity("Alice")).To(Equal(protocol.FoldIdentity("aLICE")))
		Expect(protocol.FoldIdentity("Alice")).NotTo(Equal(protocol.FoldIdentity("Alicia")))
	})

	table.DescribeTable("ValidIdentity",
		func(identity string, valid bool) {
			Expect(protocol.ValidIdentity(identity)).To(Equal(valid))
		},
		table.Entry("plain", "alice", true),
		table.Entry("digits and punctuation", "bob_2.0-x", true),
		table.Entry("non ASCII letters", "zoë", true),
		table.Entry("empty", "", false),
		table.Entry("spaces", "alice smith", false),
		table.Entry("control characters", "al\nice", false),
		table.Entry("32 bytes", strings.Repeat("a", 32), true),
		table.Entry("33 bytes", strings.Repeat("a", 33), false),
	)
})

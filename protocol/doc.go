// Package protocol implements the binary wire protocol chatter uses between
// clients and the server, and between two clients over a private link.
//
// Every message starts with a 4 byte big-endian type code followed by the
// fields of that type, in order:
//
//   - Integer: 4 bytes, big-endian
//   - Long: 8 bytes, big-endian (file sizes)
//   - Flag: 1 byte, non-zero is true
//   - Text: 4 byte length prefix followed by that many UTF-8 bytes, no terminator.
//     Identities are at most 32 bytes, free text at most 512 bytes and file
//     names at most 255 bytes.
//   - Address: 4 byte length prefix (4 for IPv4, 16 for IPv6) followed by the
//     raw address bytes in network order.
//
// A PRIVATE-FILE message is followed by a raw stream of exactly Size bytes with
// no further framing.
//
// === Catalog
//
//	code  name                      direction    fields
//	0     CONNECT-REQUEST           C -> S       identity
//	1     CONNECT-RESPONSE          S -> C       accepted
//	2     CONNECT-NOTIFY            S -> C       identity
//	3     MESSAGE                   C -> S       text
//	4     MESSAGE-BROADCAST         S -> C       identity, text
//	5     DISCONNECT                C -> S
//	6     DISCONNECT-NOTIFY         S -> C       identity
//	7     PRIVATE-REQUEST           C -> S       target identity
//	8     PRIVATE-REQUEST-NOTIFY    S -> C       requester identity
//	9     PRIVATE-ACCEPT            C -> S       requester identity
//	10    PRIVATE-ESTABLISH-SOURCE  S -> C       acceptor identity, acceptor address
//	11    PRIVATE-ESTABLISH-DEST    S -> C       initiator identity, initiator address, message port, file port
//	12    PRIVATE-PORTS             C -> S       acceptor identity, message port, file port
//	13    PRIVATE-MESSAGE           peer -> peer text
//	14    PRIVATE-FILE              peer -> peer file name, size, raw stream
//	15    ERROR                     S -> C       error code
//
// Decoding is incremental, see Decoder. A Decoder can be fed reads of any
// size, down to a single byte, and only looks at a field once all of its bytes
// have arrived.
package protocol

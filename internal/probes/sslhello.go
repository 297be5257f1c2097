package probes

import "github.com/upcheck/upcheck/internal/config"

// sslv3ClientHello is the fixed SSLv3 ClientHello sent to probe whether
// a peer speaks SSL at all. Some of this is copied from HAProxy
// 1.4.1's equivalent packet. See RFC 2246 sections A.3 and A.4 for the
// handshake layout.
var sslv3ClientHello = []byte{
	0x16,             // ContentType: Handshake
	0x03, 0x00,       // ProtocolVersion: SSLv3
	0x00, 0x79,       // ContentLength: 0x79 bytes follow
	0x01,             // HandshakeType: ClientHello
	0x00, 0x00, 0x75, // HandshakeLength: 0x75 bytes follow
	0x03, 0x00, // HelloVersion: v3
	0x00, 0x00, 0x00, 0x00, // GMT Unix time, left zeroed
	// Random, 29 bytes: "NGX_HTTP_CHECK_SSL_HELLO" + 5 newlines. The
	// declared ContentLength/HandshakeLength above were computed against
	// a 28-byte random and so undercount the real packet by one byte;
	// that mismatch is in the original packet too and is preserved here
	// rather than corrected, since nothing parses this field on receipt.
	0x4E, 0x47, 0x58, 0x5F, 0x48, 0x54, 0x54, 0x50, 0x5F, 0x43, 0x48, 0x45, 0x43, 0x4B,
	0x5F, 0x53, 0x53, 0x4C, 0x5F, 0x48, 0x45, 0x4C, 0x4C, 0x4F,
	0x0A, 0x0A, 0x0A, 0x0A, 0x0A,
	0x00,       // Session ID length: empty
	0x00, 0x4E, // CipherSuiteLength: 78 bytes (39 suites)
	0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00, 0x05, 0x00, 0x06, 0x00, 0x07,
	0x00, 0x08, 0x00, 0x09, 0x00, 0x0A, 0x00, 0x0B, 0x00, 0x0C, 0x00, 0x0D, 0x00, 0x0E,
	0x00, 0x0F, 0x00, 0x10, 0x00, 0x11, 0x00, 0x12, 0x00, 0x13, 0x00, 0x14, 0x00, 0x15,
	0x00, 0x16, 0x00, 0x17, 0x00, 0x18, 0x00, 0x19, 0x00, 0x1A, 0x00, 0x1B, 0x00, 0x2F,
	0x00, 0x30, 0x00, 0x31, 0x00, 0x32, 0x00, 0x33, 0x00, 0x34, 0x00, 0x35, 0x00, 0x36,
	0x00, 0x37, 0x00, 0x38, 0x00, 0x39, 0x00, 0x3A,
	0x01, // CompressionLength: 1 byte
	0x00, // CompressionType: null
}

// sslHelloHeaderSize is the minimum bytes needed to read msg_type,
// version, length, and handshake_type off a server hello reply.
const sslHelloHeaderSize = 6

// SSLHello sends the fixed ClientHello above and checks only that the
// reply is a Handshake record carrying a ServerHello.
type SSLHello struct{}

func (SSLHello) DefaultPayload(config.CheckConfig) []byte { return sslv3ClientHello }

func (SSLHello) NeedsArena() bool { return true }

func (SSLHello) Parse(_ config.CheckConfig, recv []byte, eof bool) Verdict {
	if len(recv) < sslHelloHeaderSize {
		if eof {
			return Failed
		}
		return Again
	}

	const (
		handshakeRecordType = 0x16
		serverHello         = 0x02
	)

	if recv[0] != handshakeRecordType {
		return Failed
	}
	if recv[5] != serverHello {
		return Failed
	}
	return OK
}

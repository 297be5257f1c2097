package probes

import "github.com/upcheck/upcheck/internal/config"

// MySQL reads the greeting packet and checks only its first byte. The
// MySQL wire format actually places the packet sequence number at
// offset 3, after a 3-byte little-endian length prefix; the original
// check module reads offset 0 instead, which is really the low byte of
// that length. That is very unlikely to distinguish a genuine greeting
// from garbage, but the behavior is preserved here unchanged: success
// requires the first received byte to equal 0x00.
type MySQL struct{}

func (MySQL) DefaultPayload(config.CheckConfig) []byte { return nil }

func (MySQL) NeedsArena() bool { return false }

func (MySQL) Parse(_ config.CheckConfig, recv []byte, eof bool) Verdict {
	if len(recv) < 1 {
		if eof {
			return Failed
		}
		return Again
	}
	if recv[0] == 0x00 {
		return OK
	}
	return Failed
}

package probes

import (
	"bytes"

	"github.com/upcheck/upcheck/internal/config"
)

// IMAP reads the greeting, scans for the first space, and checks that
// the two bytes following it are "OK" (e.g. "* OK IMAP4 ready").
type IMAP struct{}

func (IMAP) DefaultPayload(config.CheckConfig) []byte { return nil }

func (IMAP) NeedsArena() bool { return false }

func (IMAP) Parse(_ config.CheckConfig, recv []byte, eof bool) Verdict {
	idx := bytes.IndexByte(recv, ' ')
	if idx < 0 {
		if eof {
			return Failed
		}
		return Again
	}

	if len(recv) < idx+3 {
		if eof {
			return Failed
		}
		return Again
	}

	if recv[idx+1] == 'O' && recv[idx+2] == 'K' {
		return OK
	}
	return Failed
}

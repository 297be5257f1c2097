package probes

import (
	"bytes"
	"strconv"

	"github.com/upcheck/upcheck/internal/config"
)

const defaultSMTPPayload = "HELO smtp.localdomain\r\n"

// SMTP sends a fixed HELO and buckets the greeting's reply code, with
// a lenient fallback for servers whose greeting a strict parse can't
// make sense of: if the leading byte is '2', treat it as success
// anyway.
type SMTP struct{}

func (SMTP) DefaultPayload(config.CheckConfig) []byte { return []byte(defaultSMTPPayload) }

func (SMTP) NeedsArena() bool { return true }

func (SMTP) Parse(cfg config.CheckConfig, recv []byte, eof bool) Verdict {
	idx := bytes.Index(recv, []byte("\r\n"))
	if idx < 0 {
		if eof {
			return lenientFallback(recv)
		}
		return Again
	}

	line := recv[:idx]
	if len(line) < 3 {
		return lenientFallback(recv)
	}

	code, err := strconv.Atoi(string(line[:3]))
	if err != nil {
		return lenientFallback(recv)
	}

	if bucketAccepted(code, cfg.StatusMask) {
		return OK
	}
	return Failed
}

func lenientFallback(recv []byte) Verdict {
	if len(recv) > 0 && recv[0] == '2' {
		return OK
	}
	return Failed
}

package probes

import (
	"bytes"
	"strconv"

	"github.com/upcheck/upcheck/internal/config"
)

const defaultHTTPPayload = "GET / HTTP/1.0\r\n\r\n"

// HTTP sends a fixed request and buckets the status line's reply code.
type HTTP struct{}

func (HTTP) DefaultPayload(config.CheckConfig) []byte { return []byte(defaultHTTPPayload) }

func (HTTP) NeedsArena() bool { return true }

// Parse waits for the first CRLF (the status line) and buckets the
// three-digit code in its second field. Anything before that returns
// Again; a response that never completes a status line before eof is
// a failure, not a timeout-independent again.
func (HTTP) Parse(cfg config.CheckConfig, recv []byte, eof bool) Verdict {
	idx := bytes.Index(recv, []byte("\r\n"))
	if idx < 0 {
		if eof {
			return Failed
		}
		return Again
	}

	fields := bytes.Fields(recv[:idx])
	if len(fields) < 2 {
		return Failed
	}

	code, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return Failed
	}

	if bucketAccepted(code, cfg.StatusMask) {
		return OK
	}
	return Failed
}

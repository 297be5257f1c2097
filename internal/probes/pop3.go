package probes

import "github.com/upcheck/upcheck/internal/config"

// POP3 reads the greeting and checks for a leading '+' (the "+OK"
// response prefix).
type POP3 struct{}

func (POP3) DefaultPayload(config.CheckConfig) []byte { return nil }

func (POP3) NeedsArena() bool { return false }

func (POP3) Parse(_ config.CheckConfig, recv []byte, eof bool) Verdict {
	if len(recv) < 1 {
		if eof {
			return Failed
		}
		return Again
	}
	if recv[0] == '+' {
		return OK
	}
	return Failed
}

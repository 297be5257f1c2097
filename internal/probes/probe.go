// Package probes implements the seven protocol verdict handlers
// dispatched by the registry: each supplies a default send payload and
// an incremental receive parser, mirroring the init/send/recv/parse
// quadruple of the original check module's function-pointer table.
package probes

import "github.com/upcheck/upcheck/internal/config"

// Verdict is the tri-state outcome of feeding bytes to a probe parser.
type Verdict int

const (
	Again Verdict = iota
	OK
	Failed
)

func (v Verdict) String() string {
	switch v {
	case Again:
		return "again"
	case OK:
		return "ok"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handler is the per-kind behavior: a default payload, whether the
// probe needs a parser arena at all, and the incremental parser.
//
// Parse is called with the full set of bytes received so far on every
// call, not just the latest delta, so it can be a pure function of
// (cfg, recv, eof) with no hidden state; whatever state a probe cycle
// needs between calls lives in the caller's receive buffer, not here.
// That also means Reinit has nothing to reset at this layer and is not
// part of the interface.
type Handler interface {
	DefaultPayload(cfg config.CheckConfig) []byte
	NeedsArena() bool
	Parse(cfg config.CheckConfig, recv []byte, eof bool) Verdict
}

// Payload resolves the bytes a probe cycle should send: the
// configured override when present, otherwise the handler's default.
func Payload(h Handler, cfg config.CheckConfig) []byte {
	if cfg.SendOverride != nil {
		return cfg.SendOverride
	}
	return h.DefaultPayload(cfg)
}

// bucketAccepted reports whether code's status bucket is set in mask.
func bucketAccepted(code int, mask config.StatusMask) bool {
	return config.BucketOf(code)&mask != 0
}

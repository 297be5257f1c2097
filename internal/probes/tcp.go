package probes

import "github.com/upcheck/upcheck/internal/config"

// TCP is the connect-only peek probe. It sends and parses nothing: the
// statemachine special-cases this kind entirely, doing a one-byte PEEK
// read immediately after connect and treating either data or
// would-block as success, never reaching SEND/RECV. Parse exists only
// so the registry stays uniform across kinds; the statemachine never
// calls it for TCP.
type TCP struct{}

func (TCP) DefaultPayload(config.CheckConfig) []byte { return nil }

func (TCP) NeedsArena() bool { return false }

func (TCP) Parse(config.CheckConfig, []byte, bool) Verdict { return OK }

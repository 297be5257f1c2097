// Package registry is the closed table mapping a configured probe
// kind to its handler. Extending the system to a new protocol means
// adding one row here and one type in probes; dispatch never grows
// past this one indirection.
package registry

import (
	"fmt"

	"github.com/upcheck/upcheck/internal/config"
	"github.com/upcheck/upcheck/internal/probes"
)

var table = map[config.Kind]probes.Handler{
	config.KindTCP:      probes.TCP{},
	config.KindHTTP:     probes.HTTP{},
	config.KindSSLHello: probes.SSLHello{},
	config.KindSMTP:     probes.SMTP{},
	config.KindMySQL:    probes.MySQL{},
	config.KindPOP3:     probes.POP3{},
	config.KindIMAP:     probes.IMAP{},
}

// Lookup returns the handler registered for kind, if any.
func Lookup(kind config.Kind) (probes.Handler, bool) {
	h, ok := table[kind]
	return h, ok
}

// MustLookup is Lookup for callers that have already validated kind
// through config.CheckConfig.Validate and treat an unknown kind here
// as a programming error rather than a runtime condition.
func MustLookup(kind config.Kind) probes.Handler {
	h, ok := table[kind]
	if !ok {
		panic(fmt.Sprintf("registry: no handler registered for kind %q", kind))
	}
	return h
}

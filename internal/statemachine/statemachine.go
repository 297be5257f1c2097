// Package statemachine drives one peer through a single probe cycle:
// connect, send, receive, parse, verdict, clean. The original module
// expresses this as callbacks registered with a non-blocking event
// loop (send_handler/recv_handler fired by epoll readiness, a separate
// timeout timer per peer). Goroutines plus deadline-bound net.Conn
// calls are the idiomatic Go analogue: Run blocks the calling
// goroutine exactly as long as the original's callback chain would
// have taken, and a context deadline stands in for the timeout timer.
package statemachine

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/upcheck/upcheck/internal/config"
	"github.com/upcheck/upcheck/internal/metrics"
	"github.com/upcheck/upcheck/internal/probes"
	"github.com/upcheck/upcheck/internal/registry"
	"github.com/upcheck/upcheck/internal/sharedstate"
	"github.com/upcheck/upcheck/pkg/buffer"
)

// Runner executes probe cycles against a shared peer-state region,
// recording every verdict and its latency.
type Runner struct {
	region  *sharedstate.Region
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(region *sharedstate.Region, m *metrics.Metrics, logger *zap.Logger) *Runner {
	return &Runner{region: region, metrics: m, logger: logger}
}

// Run performs exactly one probe cycle for peer. The caller must
// already own peer's slot (see sharedstate.TryTakeOwnership); Run
// always records a verdict and drops ownership before returning,
// regardless of how the cycle ends, matching clean's unconditional
// funnel in the original design.
func (r *Runner) Run(ctx context.Context, peer config.UpstreamConfig) {
	ctx, cancel := context.WithTimeout(ctx, peer.Check.Timeout())
	defer cancel()

	start := time.Now()
	success := r.probeOnce(ctx, peer)
	latency := time.Since(start)

	r.clean(peer, success, latency)
}

func (r *Runner) probeOnce(ctx context.Context, peer config.UpstreamConfig) bool {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", peer.Addr)
	if err != nil {
		r.logger.Debug("probe connect failed", zap.String("peer", peer.Name), zap.Error(err))
		return false
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if peer.Check.Kind == config.KindTCP {
		return peekSucceeds(conn)
	}

	// peer.Check.Kind was already validated by config.CheckConfig.Validate
	// at load time, so an unknown kind here is a programming error, not
	// a runtime condition worth a recoverable error path.
	handler := registry.MustLookup(peer.Check.Kind)

	if err := sendPayload(conn, probes.Payload(handler, peer.Check)); err != nil {
		r.logger.Debug("probe send failed", zap.String("peer", peer.Name), zap.Error(err))
		return false
	}

	return r.recv(conn, handler, peer.Check)
}

// peekSucceeds implements the TCP kind's connect-only check: a single
// PEEK read. Data, EOF, or the read timing out while the connection
// itself is live are all treated as success; only a hard error is a
// failure.
func peekSucceeds(conn net.Conn) bool {
	_, err := bufio.NewReader(conn).Peek(1)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// sendPayload writes payload in full. An empty payload is a no-op: the
// SEND state is entered and left in the same loop iteration, exactly
// as a probe with no send_payload does in the original.
func sendPayload(conn net.Conn, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := conn.Write(payload)
	return err
}

// recv reads into a growable buffer, feeding the accumulated bytes to
// handler.Parse after every read, until a verdict other than Again, an
// EOF (fed to Parse once more with eof=true for lenient probes like
// SMTP), or a hard read error (including the deadline firing).
func (r *Runner) recv(conn net.Conn, handler probes.Handler, cfg config.CheckConfig) bool {
	buf := buffer.New()
	for {
		free := buf.Free()
		n, err := conn.Read(free)
		if n > 0 {
			buf.Advance(n)
			switch handler.Parse(cfg, buf.Bytes(), false) {
			case probes.OK:
				return true
			case probes.Failed:
				return false
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return handler.Parse(cfg, buf.Bytes(), true) == probes.OK
			}
			return false
		}
	}
}

func (r *Runner) clean(peer config.UpstreamConfig, success bool, latency time.Duration) {
	now := time.Now()
	if err := r.region.RecordVerdict(peer.Index, success, now, peer.Check.Rise, peer.Check.Fall); err != nil {
		r.logger.Error("record verdict failed", zap.String("peer", peer.Name), zap.Error(err))
	}
	if err := r.region.DropOwnership(peer.Index); err != nil {
		r.logger.Error("drop ownership failed", zap.String("peer", peer.Name), zap.Error(err))
	}

	down := !success
	var rise, fall uint32
	if snap, err := r.region.Snapshot(peer.Index); err == nil {
		down = snap.Down
		rise = snap.RiseCount
		fall = snap.FallCount
	}

	kind := string(peer.Check.Kind)
	r.metrics.ProbeLatency.WithLabelValues(peer.Name, kind).Observe(latency.Seconds())
	r.metrics.RecordVerdict(peer.Name, kind, success, down, rise, fall)
}

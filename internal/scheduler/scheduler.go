// Package scheduler runs the per-peer timer that attempts ownership
// election and, on a win, hands the peer to a statemachine.Runner.
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/upcheck/upcheck/internal/config"
	"github.com/upcheck/upcheck/internal/metrics"
	"github.com/upcheck/upcheck/internal/sharedstate"
	"github.com/upcheck/upcheck/internal/statemachine"
)

// pollFloor is the minimum recurring tick period regardless of how
// short a peer's configured interval is.
const pollFloor = time.Second

// Scheduler arms one recurring timer per peer. On every tick it
// re-checks whether this worker already owns the peer, attempts
// election if not, and on a win runs exactly one probe cycle before
// returning to the loop. The half-interval poll rate means that if the
// current owner dies mid-probe, every other worker re-enters the
// election within one interval of the next scheduled probe time.
type Scheduler struct {
	region  *sharedstate.Region
	runner  *statemachine.Runner
	metrics *metrics.Metrics
	logger  *zap.Logger
	rng     *rand.Rand
}

func New(region *sharedstate.Region, runner *statemachine.Runner, m *metrics.Metrics, logger *zap.Logger, workerID uint32) *Scheduler {
	return &Scheduler{
		region:  region,
		runner:  runner,
		metrics: m,
		logger:  logger,
		rng:     rand.New(rand.NewSource(int64(workerID) + time.Now().UnixNano())),
	}
}

func pollPeriod(interval time.Duration) time.Duration {
	half := interval / 2
	if half < pollFloor {
		return pollFloor
	}
	return half
}

// Run arms peer's timer and blocks until ctx is cancelled, re-arming
// on every tick. It is meant to be started in its own goroutine, one
// per configured peer, by Bootstrap.
func (s *Scheduler) Run(ctx context.Context, peer config.UpstreamConfig) {
	jitterCeiling := peer.Check.Interval()
	if jitterCeiling < pollFloor {
		jitterCeiling = pollFloor
	}
	initialDelay := time.Duration(s.rng.Int63n(int64(jitterCeiling)))

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	period := pollPeriod(peer.Check.Interval())

	for {
		select {
		case <-timer.C:
			s.tick(ctx, peer)
			timer.Reset(period)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, peer config.UpstreamConfig) {
	if s.region.Owns(peer.Index) {
		// a probe for this peer is already in progress in this worker
		return
	}

	now := time.Now()
	snapBefore, _ := s.region.Snapshot(peer.Index)

	if !s.region.TryTakeOwnership(peer.Index, now, peer.Check.Interval()) {
		// only a loss to another worker's ownership counts as contention;
		// a tick that arrives before the interval has elapsed does not.
		if snap, err := s.region.Snapshot(peer.Index); err == nil && snap.OwnerValid {
			s.metrics.OwnershipContended.Inc()
		}
		return
	}

	// the base eligibility rule only ever fires when owner == INVALID;
	// if a valid owner was observed just before the win, this must have
	// gone through the stale-owner reclamation rule instead.
	reason := "fresh"
	if snapBefore.OwnerValid {
		reason = "stale_reclaim"
	}
	s.metrics.OwnershipTakeovers.WithLabelValues(reason).Inc()
	s.runner.Run(ctx, peer)
}

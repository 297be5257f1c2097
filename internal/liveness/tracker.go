// Package liveness answers whether a given worker is still alive, for
// the ownership-reclamation rule in sharedstate.TryTakeOwnership: a
// slot whose owner has gone silent for 2*interval is only reclaimed if
// the owning worker is confirmed dead, not merely slow.
//
// This replaces the teacher's gRPC-based peer health prober: instead
// of dialing remote peers and polling a HealthCheck RPC on a ticker,
// every worker stamps its own shared-memory heartbeat slot on the same
// kind of ticker, and liveness is answered by reading another worker's
// slot lock-free, with no network round trip.
package liveness

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upcheck/upcheck/internal/sharedstate"
)

// Tracker owns the periodic heartbeat stamp for one worker and answers
// IsAlive queries against the shared table for any worker.
type Tracker struct {
	table    *sharedstate.HeartbeatTable
	workerID uint32
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTracker builds a tracker stamping workerID's heartbeat every
// interval; a worker is considered dead once its most recent stamp is
// older than timeout.
func NewTracker(table *sharedstate.HeartbeatTable, workerID uint32, interval, timeout time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		table:    table,
		workerID: workerID,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start stamps the heartbeat immediately and then on every tick, until
// Stop is called.
func (t *Tracker) Start() {
	t.table.Stamp(t.workerID, time.Now())

	t.wg.Add(1)
	go t.loop()
}

func (t *Tracker) loop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.table.Stamp(t.workerID, time.Now())
		case <-t.stopCh:
			return
		}
	}
}

// Stop halts the heartbeat goroutine and waits for it to exit. The
// worker's last stamp is left in place; other workers will see it age
// past timeout and correctly conclude this worker is gone.
func (t *Tracker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
	t.logger.Debug("liveness tracker stopped", zap.Uint32("worker_id", t.workerID))
}

// IsAlive implements sharedstate.LivenessFunc: workerID is alive if
// its most recent heartbeat is within timeout.
func (t *Tracker) IsAlive(workerID uint32) bool {
	last := t.table.LastSeen(workerID)
	if last.IsZero() {
		return false
	}
	return time.Since(last) < t.timeout
}

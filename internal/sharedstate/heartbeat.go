package sharedstate

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// HeartbeatTable is a small mmap-backed array of per-worker last-seen
// timestamps (unix milliseconds), one atomic.Int64 per worker slot. It
// backs the LivenessFunc a Region consults in TryTakeOwnership's
// stale-owner reclamation rule: a worker stamps its own slot on a
// ticker, and any worker can read any other worker's slot lock-free.
type HeartbeatTable struct {
	file  *os.File
	mm    mmap.MMap
	beats []atomic.Int64
}

// HeartbeatTableSize returns the byte size of a heartbeat table for
// workerCount workers, so callers can detect a worker-count change by
// comparing against an existing file's size before attaching to it.
func HeartbeatTableSize(workerCount int) int64 {
	return int64(workerCount) * int64(unsafe.Sizeof(atomic.Int64{}))
}

func heartbeatSize(workerCount int) int {
	return int(HeartbeatTableSize(workerCount))
}

// CreateHeartbeatTable allocates a fresh table for workerCount workers,
// zeroed so every worker starts with no recorded heartbeat.
func CreateHeartbeatTable(path string, workerCount int) (*HeartbeatTable, error) {
	size := heartbeatSize(workerCount)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sharedstate: open heartbeat table %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedstate: truncate heartbeat table %s: %w", path, err)
	}

	mm, err := mmap.MapRegion(f, size, mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedstate: mmap heartbeat table %s: %w", path, err)
	}

	return newHeartbeatTable(f, mm, workerCount), nil
}

// OpenHeartbeatTable attaches to an existing table created by another
// worker's CreateHeartbeatTable.
func OpenHeartbeatTable(path string, workerCount int) (*HeartbeatTable, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sharedstate: open heartbeat table %s: %w", path, err)
	}

	size := heartbeatSize(workerCount)
	mm, err := mmap.MapRegion(f, size, mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedstate: mmap heartbeat table %s: %w", path, err)
	}

	return newHeartbeatTable(f, mm, workerCount), nil
}

func newHeartbeatTable(f *os.File, mm mmap.MMap, workerCount int) *HeartbeatTable {
	var beats []atomic.Int64
	if workerCount > 0 {
		beats = unsafe.Slice((*atomic.Int64)(unsafe.Pointer(&mm[0])), workerCount)
	}
	return &HeartbeatTable{file: f, mm: mm, beats: beats}
}

// Stamp records now as workerID's last-seen time. Out-of-range
// workerIDs are silently ignored: a misconfigured worker count should
// not crash a probe cycle.
func (h *HeartbeatTable) Stamp(workerID uint32, now time.Time) {
	if int(workerID) >= len(h.beats) {
		return
	}
	h.beats[workerID].Store(now.UnixMilli())
}

// LastSeen returns the last timestamp stamped for workerID, or the
// zero time if none has ever been recorded.
func (h *HeartbeatTable) LastSeen(workerID uint32) time.Time {
	if int(workerID) >= len(h.beats) {
		return time.Time{}
	}
	ms := h.beats[workerID].Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Close unmaps the table and closes its backing file.
func (h *HeartbeatTable) Close() error {
	if err := h.mm.Unmap(); err != nil {
		h.file.Close()
		return fmt.Errorf("sharedstate: unmap heartbeat table: %w", err)
	}
	return h.file.Close()
}

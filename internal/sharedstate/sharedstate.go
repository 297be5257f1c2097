// Package sharedstate implements the cross-process peer status record:
// one fixed-size, spinlock-guarded slot per peer, memory-mapped so every
// worker process of the proxy observes the same counters and ownership
// bit. The region's layout must stay repr-stable across workers, so every
// field is a sync/atomic type placed directly over mmap'd bytes via
// unsafe.Slice rather than behind a Go-level mutex.
package sharedstate

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/edsrzf/mmap-go"

	"github.com/upcheck/upcheck/internal/hysteresis"
)

// invalidOwner is the sentinel stored in a slot's owner word when no
// worker currently holds the probe for that peer.
const invalidOwner uint32 = 0

var (
	ErrOutOfRange  = errors.New("sharedstate: peer index out of range")
	ErrLockTimeout = errors.New("sharedstate: spinlock acquisition timed out")
)

// header precedes the slot array and carries the generation counter used
// to detect configuration reloads across a remap.
type header struct {
	generation atomic.Uint64
	slotCount  atomic.Uint32
}

// rawSlot is one peer's record. Every field is accessed through
// sync/atomic; the lock word additionally serializes the multi-field
// read-modify-write sequences (RecordVerdict, Acquire, Release).
type rawSlot struct {
	accessTimeMS atomic.Int64
	accessCount  atomic.Uint64
	business     atomic.Int64
	lock         atomic.Uint32 // 0 = free, else ownerID+1
	owner        atomic.Uint32 // 0 = invalidOwner, else ownerID+1
	riseCount    atomic.Uint32
	fallCount    atomic.Uint32
	down         atomic.Bool
}

// LivenessFunc reports whether a worker identified by its raw id is still
// alive. Bootstrap supplies this so a slot whose owner merely hasn't
// recorded a verdict in a while is not stolen out from under a worker
// that is, in fact, still running the probe.
type LivenessFunc func(workerID uint32) bool

// Region is one mapped SharedPeerState instance.
type Region struct {
	file     *os.File
	mm       mmap.MMap
	hdr      *header
	slots    []rawSlot
	workerID uint32
	liveness LivenessFunc
}

func regionSize(slotCount int) int {
	return int(unsafe.Sizeof(header{})) + slotCount*int(unsafe.Sizeof(rawSlot{}))
}

// Create allocates a fresh region backed by the file at path, zeroing it,
// arming every slot as down, and setting generation to 1. Used the first
// time an upstream is initialized.
func Create(path string, slotCount int, workerID uint32) (*Region, error) {
	size := regionSize(slotCount)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sharedstate: open %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedstate: truncate %s: %w", path, err)
	}

	mm, err := mmap.MapRegion(f, size, mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedstate: mmap %s: %w", path, err)
	}

	r := newRegion(f, mm, slotCount, workerID)
	r.hdr.slotCount.Store(uint32(slotCount))
	r.hdr.generation.Store(1)
	for i := range r.slots {
		r.slots[i].down.Store(true)
	}

	return r, nil
}

// Open attaches to an existing region previously created by Create (or
// another worker's Open), without resetting any state. This is how every
// worker but the first one that boots finds the shared memory.
func Open(path string, workerID uint32) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sharedstate: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedstate: stat %s: %w", path, err)
	}

	headerSize := int(unsafe.Sizeof(header{}))
	slotSize := int(unsafe.Sizeof(rawSlot{}))
	slotCount := (int(info.Size()) - headerSize) / slotSize
	if slotCount < 0 {
		f.Close()
		return nil, fmt.Errorf("sharedstate: %s is smaller than the region header", path)
	}

	mm, err := mmap.MapRegion(f, int(info.Size()), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedstate: mmap %s: %w", path, err)
	}

	return newRegion(f, mm, slotCount, workerID), nil
}

func newRegion(f *os.File, mm mmap.MMap, slotCount int, workerID uint32) *Region {
	hdr := (*header)(unsafe.Pointer(&mm[0]))

	var slots []rawSlot
	if slotCount > 0 {
		slotsPtr := (*rawSlot)(unsafe.Pointer(&mm[unsafe.Sizeof(header{})]))
		slots = unsafe.Slice(slotsPtr, slotCount)
	}

	return &Region{
		file:     f,
		mm:       mm,
		hdr:      hdr,
		slots:    slots,
		workerID: workerID,
	}
}

// SetLiveness installs the liveness callback used to resolve ownership
// reclamation past the 2*interval staleness window (see TryTakeOwnership).
func (r *Region) SetLiveness(fn LivenessFunc) { r.liveness = fn }

// Generation returns the current reload generation.
func (r *Region) Generation() uint64 { return r.hdr.generation.Load() }

// BumpGeneration increments the generation counter, signalling every
// worker with a stale view that it must reinitialize its peer set.
func (r *Region) BumpGeneration() uint64 { return r.hdr.generation.Add(1) }

// SetGeneration forces the generation counter to g. Used only when
// remapping across a reload, immediately before BumpGeneration, so the
// new region's generation continues from the old region's rather than
// restarting at 1.
func (r *Region) SetGeneration(g uint64) { r.hdr.generation.Store(g) }

// SlotCount returns the number of peer slots in the region.
func (r *Region) SlotCount() int { return len(r.slots) }

// Close unmaps the region and closes its backing file. Any other worker
// with the same region open is unaffected.
func (r *Region) Close() error {
	if err := r.mm.Unmap(); err != nil {
		r.file.Close()
		return fmt.Errorf("sharedstate: unmap: %w", err)
	}
	return r.file.Close()
}

func (r *Region) slot(i int) (*rawSlot, error) {
	if i < 0 || i >= len(r.slots) {
		return nil, ErrOutOfRange
	}
	return &r.slots[i], nil
}

const maxSpin = 200

// lockSlot acquires the per-slot spinlock for the calling worker, with
// bounded CAS retries escalating from a scheduler yield to a short sleep.
// The critical section it guards must stay O(1): field writes only, no
// I/O, no allocation.
func (r *Region) lockSlot(s *rawSlot) bool {
	self := r.workerID + 1
	for i := 0; i < maxSpin; i++ {
		if s.lock.CompareAndSwap(0, self) {
			return true
		}
		if i < 32 {
			runtime.Gosched()
		} else {
			time.Sleep(time.Microsecond * time.Duration(i))
		}
	}
	return false
}

// unlockSlot releases the spinlock via CAS from self back to zero, never
// an unconditional store, so a stale holder can never clear another
// worker's lock.
func (r *Region) unlockSlot(s *rawSlot) {
	s.lock.CompareAndSwap(r.workerID+1, 0)
}

// PeerDown returns the down flag for peer i, or true (closed safe) if i
// is out of range. This is a single-word atomic load with no locking.
func (r *Region) PeerDown(i int) bool {
	if i < 0 || i >= len(r.slots) {
		return true
	}
	return r.slots[i].down.Load()
}

// Acquire is called when the router selects a peer to receive traffic:
// it bumps the in-flight business counter and the access counter.
func (r *Region) Acquire(i int) error {
	s, err := r.slot(i)
	if err != nil {
		return err
	}
	if !r.lockSlot(s) {
		return ErrLockTimeout
	}
	defer r.unlockSlot(s)

	s.business.Add(1)
	s.accessCount.Add(1)
	return nil
}

// Release is called when a request routed to peer i completes. business
// never underflows: a release with nothing outstanding is a no-op.
func (r *Region) Release(i int) error {
	s, err := r.slot(i)
	if err != nil {
		return err
	}
	if !r.lockSlot(s) {
		return ErrLockTimeout
	}
	defer r.unlockSlot(s)

	if s.business.Load() > 0 {
		s.business.Add(-1)
	}
	return nil
}

// TryTakeOwnership attempts to win the right to probe peer i for the
// calling worker. The base rule succeeds when the slot is unowned and the
// last probe of any worker started at least interval ago. A second rule
// reclaims a slot whose owner has gone silent for 2*interval, unless the
// caller's liveness callback reports that owner is still alive.
func (r *Region) TryTakeOwnership(i int, now time.Time, interval time.Duration) bool {
	s, err := r.slot(i)
	if err != nil {
		return false
	}
	if !r.lockSlot(s) {
		return false
	}
	defer r.unlockSlot(s)

	owner := s.owner.Load()
	elapsed := time.Duration(now.UnixMilli()-s.accessTimeMS.Load()) * time.Millisecond

	eligible := false
	switch {
	case owner == invalidOwner && elapsed >= interval:
		eligible = true
	case owner != invalidOwner && elapsed >= 2*interval:
		eligible = r.liveness == nil || !r.liveness(owner-1)
	}
	if !eligible {
		return false
	}

	s.owner.Store(r.workerID + 1)
	return true
}

// DropOwnership releases the calling worker's ownership of peer i,
// making it eligible for election again on the next scheduler tick.
func (r *Region) DropOwnership(i int) error {
	s, err := r.slot(i)
	if err != nil {
		return err
	}
	if !r.lockSlot(s) {
		return ErrLockTimeout
	}
	defer r.unlockSlot(s)

	s.owner.Store(invalidOwner)
	return nil
}

// Owns reports whether the calling worker currently owns peer i.
func (r *Region) Owns(i int) bool {
	s, err := r.slot(i)
	if err != nil {
		return false
	}
	return s.owner.Load() == r.workerID+1
}

// RecordVerdict applies HysteresisPolicy to the outcome of one probe
// cycle and advances access_time so the next eligible election respects
// the configured interval.
func (r *Region) RecordVerdict(i int, success bool, now time.Time, riseTh, fallTh uint32) error {
	s, err := r.slot(i)
	if err != nil {
		return err
	}
	if !r.lockSlot(s) {
		return ErrLockTimeout
	}
	defer r.unlockSlot(s)

	st := hysteresis.Apply(hysteresis.State{
		Down:      s.down.Load(),
		RiseCount: s.riseCount.Load(),
		FallCount: s.fallCount.Load(),
	}, success, riseTh, fallTh)

	s.down.Store(st.Down)
	s.riseCount.Store(st.RiseCount)
	s.fallCount.Store(st.FallCount)
	s.accessTimeMS.Store(now.UnixMilli())
	return nil
}

// Seed forces slot i's counters to the given values, with no owner and
// no lock contention implied. Used only by Bootstrap when remapping a
// region across a reload, to carry prior state for a peer index that
// survives into the new slot array (see spec.md §4.8: "on remap across
// reloads, preserve existing state but bump generation").
func (r *Region) Seed(i int, down bool, rise, fall uint32, business int64, accessCount uint64) error {
	s, err := r.slot(i)
	if err != nil {
		return err
	}
	if !r.lockSlot(s) {
		return ErrLockTimeout
	}
	defer r.unlockSlot(s)

	s.down.Store(down)
	s.riseCount.Store(rise)
	s.fallCount.Store(fall)
	s.business.Store(business)
	s.accessCount.Store(accessCount)
	return nil
}

// Snapshot is a torn-read-tolerant view of one slot, for the status page
// and metrics exporter; neither participates in scheduling.
type Snapshot struct {
	Index       int
	Down        bool
	Business    int64
	RiseCount   uint32
	FallCount   uint32
	AccessCount uint64
	Owner       uint32
	OwnerValid  bool
}

// Snapshot reads peer i's slot without locking. Torn reads across fields
// are acceptable here; no caller of Snapshot participates in scheduling.
func (r *Region) Snapshot(i int) (Snapshot, error) {
	s, err := r.slot(i)
	if err != nil {
		return Snapshot{}, err
	}

	owner := s.owner.Load()
	snap := Snapshot{
		Index:       i,
		Down:        s.down.Load(),
		Business:    s.business.Load(),
		RiseCount:   s.riseCount.Load(),
		FallCount:   s.fallCount.Load(),
		AccessCount: s.accessCount.Load(),
		OwnerValid:  owner != invalidOwner,
	}
	if snap.OwnerValid {
		snap.Owner = owner - 1
	}
	return snap, nil
}

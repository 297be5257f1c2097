// Package hysteresis implements the rise/fall policy that turns a stream
// of per-probe verdicts into a stable up/down flag, damping flaps.
package hysteresis

// State is the portion of SharedPeerState the policy reads and writes.
// It holds no reference to shared memory itself; sharedstate adapts it to
// the mmap-backed region under the per-slot spinlock.
type State struct {
	Down      bool
	RiseCount uint32
	FallCount uint32
}

// Apply folds one verdict into state and returns the new state. It is a
// pure function: replaying the same (state, verdict, thresholds) always
// yields the same result, and rise/fall counts are always mutually
// exclusive streaks (one verdict class, success or failure, zeroes the
// other).
func Apply(s State, success bool, riseTh, fallTh uint32) State {
	if success {
		s.RiseCount++
		s.FallCount = 0
		if s.Down && s.RiseCount >= riseTh {
			s.Down = false
		}
		return s
	}

	s.FallCount++
	s.RiseCount = 0
	if !s.Down && s.FallCount >= fallTh {
		s.Down = true
	}
	return s
}

// Initial is the state a freshly created or reloaded slot starts in:
// down, with no streak in either direction.
func Initial() State {
	return State{Down: true}
}

package dispatch

import "sync"

// StallList tracks transports whose reads have been paused by an
// external collaborator applying per-connection backpressure (§3, §6).
// The dispatch core itself never decides to stall a transport — it only
// exposes this list and its own lock so a collaborator can. The lock is
// intentionally independent of every queue lock and the waitlist lock
// and must never be acquired while either of those is held (§5 locking
// discipline: "Stall queue: independent, never nested with queue
// locks").
type StallList struct {
	mu      sync.Mutex
	stalled map[*Xprt]struct{}
}

// NewStallList returns an empty stall list.
func NewStallList() *StallList {
	return &StallList{stalled: make(map[*Xprt]struct{})}
}

// Add marks x as stalled. Idempotent.
func (sl *StallList) Add(x *Xprt) {
	sl.mu.Lock()
	sl.stalled[x] = struct{}{}
	sl.mu.Unlock()
}

// Remove clears x's stalled state, if present. Idempotent.
func (sl *StallList) Remove(x *Xprt) {
	sl.mu.Lock()
	delete(sl.stalled, x)
	sl.mu.Unlock()
}

// Stalled reports whether x is currently on the stall list.
func (sl *StallList) Stalled(x *Xprt) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	_, ok := sl.stalled[x]
	return ok
}

// Len reports the number of currently stalled transports, for metrics
// and tests.
func (sl *StallList) Len() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.stalled)
}

// Snapshot returns a copy of the currently stalled transports. Used by
// diagnostics; callers must not mutate the result.
func (sl *StallList) Snapshot() []*Xprt {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	out := make([]*Xprt, 0, len(sl.stalled))
	for x := range sl.stalled {
		out = append(out, x)
	}
	return out
}

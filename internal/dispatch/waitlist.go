package dispatch

import (
	"sync"
	"time"
)

// WaitEntry is one worker's parked state on the shared Waitlist (§3).
// Per §9 DESIGN NOTES, "linked" is an explicit bit maintained under the
// Waitlist's own lock rather than inferred from list-pointer fields —
// the raw-pointer check from the original implementation is rejected
// here as a correctness hazard. waitSync/syncDone mirror the WAIT_SYNC
// and SYNC_DONE flag bits from spec.md's data model and are guarded by
// the entry's own mutex, acquired only after the waitlist lock has been
// released (§5 locking discipline).
//
// wake is the Go-idiomatic stand-in for the condition variable: the
// producer's handoff sends on it (non-blocking, capacity 1) instead of
// signalling a condvar, and the parked worker selects on it with a
// 5-second timeout instead of a timed cond_wait.
type WaitEntry struct {
	mu       sync.Mutex
	waitSync bool
	syncDone bool
	linked   bool
	wake     chan struct{}
}

// NewWaitEntry allocates a wait entry for one worker. Workers allocate
// exactly one entry and reuse it across every park cycle in their
// lifetime.
func NewWaitEntry() *WaitEntry {
	return &WaitEntry{wake: make(chan struct{}, 1)}
}

// Waitlist is the single list of parked workers protected by one lock
// (§3, §5).
type Waitlist struct {
	mu      sync.Mutex
	entries []*WaitEntry
	waiters int
}

// NewWaitlist returns an empty waitlist.
func NewWaitlist() *Waitlist {
	return &Waitlist{}
}

// Waiters reports the current number of parked workers, for tests
// verifying S4 and the idempotent-shutdown property in spec.md §8.
func (wl *Waitlist) Waiters() int {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	return wl.waiters
}

// Handoff implements the producer side of §4.4's "attempt a single
// waiter handoff": pop the head entry (if any) under the waitlist lock,
// release that lock, then take the entry's own mutex to post SYNC_DONE
// and wake it. Spec.md's invariant #3 (§8) requires this to decrement
// exactly one waiter and signal exactly one entry when waiters > 0 at
// the time Enqueue begins.
func (wl *Waitlist) Handoff() {
	wl.mu.Lock()
	if len(wl.entries) == 0 {
		wl.mu.Unlock()
		return
	}
	entry := wl.entries[0]
	wl.entries = wl.entries[1:]
	entry.linked = false
	wl.waiters--
	wl.mu.Unlock()

	entry.mu.Lock()
	entry.syncDone = true
	if entry.waitSync {
		select {
		case entry.wake <- struct{}{}:
		default:
		}
	}
	entry.mu.Unlock()
}

// Park publishes entry on the waitlist and blocks until a producer hands
// it work (returns true, entry has been unlinked by Handoff) or
// shouldBreak reports true at a 5-second wakeup (returns false, entry is
// unlinked here if a producer had not already claimed it in the
// meantime). Spurious timeouts where shouldBreak is still false simply
// continue parking, matching spec.md §4.4's cooperative-cancellation
// loop.
func (wl *Waitlist) Park(entry *WaitEntry, timeout time.Duration, shouldBreak func() bool) bool {
	entry.mu.Lock()
	entry.waitSync = true
	entry.syncDone = false
	entry.mu.Unlock()

	wl.mu.Lock()
	entry.linked = true
	wl.entries = append(wl.entries, entry)
	wl.waiters++
	wl.mu.Unlock()

	for {
		select {
		case <-entry.wake:
			entry.mu.Lock()
			woken := entry.syncDone
			entry.waitSync = false
			entry.syncDone = false
			entry.mu.Unlock()
			if woken {
				return true
			}
			// A send with SYNC_DONE not set is a wake left buffered by a
			// Handoff that raced an earlier park's cancellation (this
			// park reset syncDone above); treat it as harmless and keep
			// waiting rather than assume progress.
		case <-time.After(timeout):
			if !shouldBreak() {
				continue
			}
			wl.mu.Lock()
			if entry.linked {
				wl.unlinkLocked(entry)
				entry.linked = false
				wl.waiters--
			}
			wl.mu.Unlock()

			entry.mu.Lock()
			entry.waitSync = false
			entry.mu.Unlock()
			return false
		}
	}
}

// unlinkLocked removes entry from wl.entries. Caller holds wl.mu.
func (wl *Waitlist) unlinkLocked(entry *WaitEntry) {
	for i, e := range wl.entries {
		if e == entry {
			wl.entries = append(wl.entries[:i], wl.entries[i+1:]...)
			return
		}
	}
}

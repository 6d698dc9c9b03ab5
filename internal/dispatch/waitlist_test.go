package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitlistHandoff(t *testing.T) {
	t.Run("HandoffOnEmptyListIsNoop", func(t *testing.T) {
		wl := NewWaitlist()
		wl.Handoff()
		assert.Equal(t, 0, wl.Waiters())
	})

	t.Run("HandoffWakesExactlyOneParkedWaiter", func(t *testing.T) {
		wl := NewWaitlist()
		entry := NewWaitEntry()

		done := make(chan bool, 1)
		go func() {
			done <- wl.Park(entry, time.Second, func() bool { return false })
		}()

		require.Eventually(t, func() bool { return wl.Waiters() == 1 }, time.Second, time.Millisecond)
		wl.Handoff()

		select {
		case woken := <-done:
			assert.True(t, woken)
		case <-time.After(time.Second):
			t.Fatal("park did not return after handoff")
		}
		assert.Equal(t, 0, wl.Waiters())
	})

	t.Run("HandoffDecrementsWaitersByExactlyOne", func(t *testing.T) {
		wl := NewWaitlist()
		entries := make([]*WaitEntry, 3)
		var wg sync.WaitGroup
		for i := range entries {
			entries[i] = NewWaitEntry()
			wg.Add(1)
			go func(e *WaitEntry) {
				defer wg.Done()
				wl.Park(e, time.Second, func() bool { return true })
			}(entries[i])
		}

		require.Eventually(t, func() bool { return wl.Waiters() == 3 }, time.Second, time.Millisecond)
		wl.Handoff()
		assert.Equal(t, 2, wl.Waiters())

		wl.Handoff()
		wl.Handoff()
		wg.Wait()
		assert.Equal(t, 0, wl.Waiters())
	})
}

func TestWaitlistPark(t *testing.T) {
	t.Run("ParkReturnsFalseWhenShouldBreakFires", func(t *testing.T) {
		wl := NewWaitlist()
		entry := NewWaitEntry()

		calls := 0
		woken := wl.Park(entry, 10*time.Millisecond, func() bool {
			calls++
			return calls >= 2
		})
		assert.False(t, woken)
		assert.Equal(t, 0, wl.Waiters())
	})

	t.Run("ParkKeepsWaitingWhileShouldBreakIsFalse", func(t *testing.T) {
		wl := NewWaitlist()
		entry := NewWaitEntry()

		released := make(chan struct{})
		go func() {
			time.Sleep(20 * time.Millisecond)
			close(released)
			wl.Handoff()
		}()

		woken := wl.Park(entry, 5*time.Millisecond, func() bool {
			select {
			case <-released:
				return true
			default:
				return false
			}
		})
		assert.True(t, woken)
	})

	t.Run("EntryIsReusableAcrossParkCycles", func(t *testing.T) {
		wl := NewWaitlist()
		entry := NewWaitEntry()

		done := make(chan bool, 1)
		go func() {
			done <- wl.Park(entry, time.Second, func() bool { return false })
		}()
		require.Eventually(t, func() bool { return wl.Waiters() == 1 }, time.Second, time.Millisecond)
		wl.Handoff()
		require.True(t, <-done)

		woken := wl.Park(entry, 5*time.Millisecond, func() bool { return true })
		assert.False(t, woken)
	})
}

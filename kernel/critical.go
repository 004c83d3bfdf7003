package kernel

import (
	stdcontext "context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// criticalSection is the tick-delivery mask of spec.md §4.5, realized as a
// weight-1 golang.org/x/sync/semaphore.Weighted. Because only one goroutine
// is ever the "current" thread by construction of the context primitive,
// the semaphore can be acquired by one goroutine and released by a
// different one across a context switch with no special handling: Go's
// semaphore, like its Mutex, has no goroutine affinity. Holding it
// continuously across a dispatch's restore/save pair is exactly spec.md's "hand off
// the mask across a context switch."
//
// A tick that fires while the mask is held must not be lost (spec.md
// §4.5). requestTick records it in pendingTick; whoever next calls exit
// checks and consumes that flag instead of releasing the semaphore,
// running the tick handler inline while still holding the mask.
type criticalSection struct {
	sem         *semaphore.Weighted
	pendingTick atomic.Bool
	onTick      func()
}

func newCriticalSection() *criticalSection {
	return &criticalSection{sem: semaphore.NewWeighted(1)}
}

// enter raises the mask. Every public API entry and every scheduler
// operation calls this first.
func (cs *criticalSection) enter() {
	_ = cs.sem.Acquire(stdcontext.Background(), 1)
}

// exit lowers the mask, unless a tick arrived while it was held, in which
// case the tick is delivered first and the mask stays raised for that.
func (cs *criticalSection) exit() {
	if cs.pendingTick.CompareAndSwap(true, false) {
		cs.onTick()
		return
	}
	cs.sem.Release(1)
}

// requestTick is called by the timer driver when a countdown elapses. If
// the mask is free it delivers the tick immediately (holding the mask for
// the duration of onTick, released by the matching exit inside dispatch);
// otherwise it queues the tick for the next exit to pick up.
func (cs *criticalSection) requestTick() {
	if cs.sem.TryAcquire(1) {
		cs.onTick()
		return
	}
	cs.pendingTick.Store(true)
}

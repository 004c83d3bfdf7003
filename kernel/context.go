package kernel

import "runtime"

// context is the non-local control transfer primitive of spec.md §4.1,
// realized as a goroutine-parking handoff rather than a saved register
// file: Go exposes no sigsetjmp/siglongjmp equivalent, and reaching for
// cgo or raw assembly to get one would not be idiomatic Go. Every TCB
// except TID 0 owns a dedicated goroutine that is parked in save()
// whenever it is not the running thread; save() and restore() are the two
// halves spec.md describes, save() returning only once some other call
// restores this exact context again.
//
// See SPEC_FULL.md §4.1 for why the scheduler calls restore(next) before
// save(cur) rather than the other way around: Go cannot make one function
// call return twice, so the bookkeeping spec.md places before the save
// (steps 3-6 of dispatch) runs first, and the two-primitive description
// collapses into a single switch from the caller's point of view.
type context struct {
	id   TID
	wake chan struct{}

	// doomed is set by Terminate when it destroys a TCB that is not the
	// caller's own and not currently running: that thread's goroutine is
	// sitting parked in save, and nothing will ever pick it as dispatch's
	// next again now that its TCB is gone, so its only way out is to be
	// woken once more and sent straight to runtime.Goexit instead of back
	// into whatever Block/Sleep/Yield call it was parked inside of.
	doomed bool
}

func newContext(id TID) *context {
	return &context{id: id, wake: make(chan struct{})}
}

// save blocks the calling goroutine until some other goroutine calls
// restore on this exact context, then returns. It must only ever be
// called by the goroutine that is logically running as this context's
// thread.
//
// If the context was marked doomed before the matching restore (Terminate
// killing a parked, non-running thread), save never returns at all: it
// calls runtime.Goexit on the caller's behalf, since resuming normally
// would run code — the rest of Block, Sleep, or dispatch's cooperative
// branch — against a TCB that Terminate has already removed from the
// table.
func (c *context) save() {
	<-c.wake
	if c.doomed {
		runtime.Goexit()
	}
}

// restore releases a context previously parked in save. Calling it on a
// context that is not actually parked blocks forever, since nothing is
// receiving on wake; dispatch only ever calls it after checking tcb.parked
// (scheduler.go).
func (c *context) restore() {
	c.wake <- struct{}{}
}

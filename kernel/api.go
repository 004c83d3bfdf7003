package kernel

import (
	"os"
	"runtime"
)

// Spawn creates a new thread in READY state at the given priority and
// returns its TID. The thread does not run until some future dispatch
// picks it off the ready queue (spec.md §9, "spawn must not dispatch").
func (lib *Library) Spawn(priority Priority, entry func()) (TID, error) {
	lib.cs.enter()
	defer lib.cs.exit()
	if !lib.initialized {
		return NoTID, lib.libErr(ErrNotInitialized)
	}
	if entry == nil {
		return NoTID, lib.libErr(ErrInvalidEntry)
	}
	if int(priority) < 0 || int(priority) >= len(lib.lengths) {
		return NoTID, lib.libErr(ErrInvalidPriority)
	}
	id := lib.table.allocateTID()
	if id == NoTID {
		return NoTID, lib.libErr(ErrTableFull)
	}

	t := &tcb{
		id:       id,
		state:    stateReady,
		priority: priority,
		stack:    make([]byte, StackSize),
		ctx:      newContext(id),
		// parked is set true here, synchronously, under the mask, rather
		// than inside the goroutine below: the goroutine's first act is
		// to call save(), and restore() rendezvous correctly with it
		// whenever it is eventually called, regardless of exactly when
		// the goroutine gets scheduled. Marking parked here (rather than
		// racing to set it from inside the new goroutine) keeps the flag
		// accurate for any dispatch that could select this TID, which
		// cannot happen before Spawn itself releases the mask.
		parked: true,
		entry:  entry,
	}
	lib.table.insert(id, t)
	lib.queues.pushBack(priority, id)

	go func() {
		t.ctx.save()
		lib.cs.exit()
		t.entry()
		lib.selfTerminate(id)
	}()

	return id, nil
}

// Terminate destroys a thread. Terminating TID 0 tears the whole library
// down and exits the process with status 0 (spec.md §4.7); terminating
// the calling thread itself never returns.
func (lib *Library) Terminate(tid TID) error {
	lib.cs.enter()
	if !lib.initialized {
		lib.cs.exit()
		return lib.libErr(ErrNotInitialized)
	}
	t := lib.table.lookup(tid)
	if t == nil {
		lib.cs.exit()
		return lib.libErr(ErrInvalidTID)
	}

	if tid == 0 {
		if t.state == stateReady {
			lib.queues.remove(0)
		}
		lib.table.remove(0)
		lib.teardown()
		lib.cs.exit()
		os.Exit(0)
		return nil
	}

	if t.state == stateReady {
		lib.queues.remove(tid)
	}
	wasParked := t.parked
	lib.table.remove(tid)

	if tid == lib.currentTID {
		lib.dispatch(reasonTerminatedSelf)
		return nil // unreachable: dispatch never returns for reasonTerminatedSelf
	}

	// tid's goroutine is parked in context.save, and its TCB is now gone,
	// so nothing will ever dispatch it again to give it a chance to exit
	// on its own; wake it straight into runtime.Goexit (context.go) rather
	// than leaving it parked forever. A thread that was force-preempted
	// and never made it back to a parked wait (SPEC_FULL.md §3) cannot be
	// reached this way — wasParked guards against a restore nobody would
	// ever receive — so terminating a thread that is still physically
	// spinning remains the one case Go genuinely cannot stop from outside.
	if wasParked {
		t.ctx.doomed = true
		t.ctx.restore()
	}
	lib.cs.exit()
	return nil
}

// selfTerminate is the common tail of a thread that returns from its
// entry function instead of calling Terminate explicitly: spec.md leaves
// this case to the implementation, and the natural Go rendering is to
// treat falling off the end of entry the same as self-terminating.
//
// id is the TID this goroutine was spawned with, captured at Spawn time
// rather than read from lib.currentTID, because a goroutine that was
// force-preempted and kept running in the background (SPEC_FULL.md §3)
// may no longer be the scheduler's current thread by the time entry
// returns. In that case its slot is simply freed without driving a
// dispatch: this goroutine has nothing valid left to hand off.
func (lib *Library) selfTerminate(id TID) {
	lib.cs.enter()
	t := lib.table.lookup(id)
	if t == nil {
		lib.cs.exit()
		runtime.Goexit()
	}
	if t.state == stateReady {
		lib.queues.remove(id)
	}
	lib.table.remove(id)
	if id != lib.currentTID {
		lib.cs.exit()
		runtime.Goexit()
	}
	lib.dispatch(reasonTerminatedSelf)
}

// Block moves a thread to BLOCKED. Blocking the running thread yields the
// CPU immediately; blocking an already-sleeping thread just layers
// explicitBlock on top without disturbing its sleep countdown (spec.md
// §9, "resume during sleep"). TID 0 cannot be blocked.
func (lib *Library) Block(tid TID) error {
	lib.cs.enter()
	if !lib.initialized {
		err := lib.libErr(ErrNotInitialized)
		lib.cs.exit()
		return err
	}
	if tid == 0 {
		err := lib.libErr(ErrMainThread)
		lib.cs.exit()
		return err
	}
	t := lib.table.lookup(tid)
	if t == nil {
		err := lib.libErr(ErrInvalidTID)
		lib.cs.exit()
		return err
	}
	switch t.state {
	case stateBlocked:
	case stateSleepingBlocked:
		t.explicitBlock = true
	case stateReady:
		lib.queues.remove(tid)
		t.state = stateBlocked
		t.explicitBlock = true
	case stateRunning:
		t.state = stateBlocked
		t.explicitBlock = true
		lib.dispatch(reasonBlockedSelf) // releases the mask on wake; do not exit again below
		return nil
	}
	lib.cs.exit()
	return nil
}

// Resume clears an explicit block. A thread that is also asleep stays
// asleep until its countdown reaches zero; it becomes READY only once
// both conditions have cleared.
func (lib *Library) Resume(tid TID) error {
	lib.cs.enter()
	defer lib.cs.exit()
	if !lib.initialized {
		return lib.libErr(ErrNotInitialized)
	}
	t := lib.table.lookup(tid)
	if t == nil {
		return lib.libErr(ErrInvalidTID)
	}
	switch t.state {
	case stateBlocked:
		t.explicitBlock = false
		t.state = stateReady
		lib.queues.pushBack(t.priority, tid)
	case stateSleepingBlocked:
		t.explicitBlock = false
	}
	return nil
}

// Sleep parks the calling thread for n quanta, counted down by the
// scheduler's tick handler. n <= 0 is a no-op. The main thread, TID 0,
// cannot sleep.
func (lib *Library) Sleep(n int) error {
	lib.cs.enter()
	if !lib.initialized {
		err := lib.libErr(ErrNotInitialized)
		lib.cs.exit()
		return err
	}
	if lib.currentTID == 0 {
		err := lib.libErr(ErrMainThread)
		lib.cs.exit()
		return err
	}
	if n <= 0 {
		lib.cs.exit()
		return nil
	}
	t := lib.table.lookup(lib.currentTID)
	t.sleepRemaining = n
	t.state = stateSleepingBlocked
	lib.dispatch(reasonBlockedSelf) // releases the mask on wake
	return nil
}

// Yield gives up the remainder of the calling thread's quantum
// voluntarily. spec.md §4.6 names reasonYield as a dispatch cause without
// naming a public entry point that produces it; Yield is the supplement
// that gives it one.
func (lib *Library) Yield() error {
	lib.cs.enter()
	if !lib.initialized {
		err := lib.libErr(ErrNotInitialized)
		lib.cs.exit()
		return err
	}
	lib.dispatch(reasonYield) // releases the mask on wake
	return nil
}

// ChangePriority sets a thread's priority. Against the running thread the
// change is latched and takes effect at its next dispatch (spec.md §9);
// against a READY thread it takes effect immediately, requeuing the
// thread at its new priority; otherwise it is simply recorded for when
// the thread next becomes READY.
func (lib *Library) ChangePriority(tid TID, p Priority) error {
	lib.cs.enter()
	defer lib.cs.exit()
	if !lib.initialized {
		return lib.libErr(ErrNotInitialized)
	}
	if int(p) < 0 || int(p) >= len(lib.lengths) {
		return lib.libErr(ErrInvalidPriority)
	}
	t := lib.table.lookup(tid)
	if t == nil {
		return lib.libErr(ErrInvalidTID)
	}
	switch t.state {
	case stateRunning:
		t.pendingPriority = p
		t.hasPending = true
	case stateReady:
		lib.queues.remove(tid)
		t.priority = p
		lib.queues.pushBack(p, tid)
	default:
		t.priority = p
	}
	return nil
}

// GetTid returns the currently running thread's TID.
func (lib *Library) GetTid() (TID, error) {
	lib.cs.enter()
	defer lib.cs.exit()
	if !lib.initialized {
		return NoTID, lib.libErr(ErrNotInitialized)
	}
	return lib.currentTID, nil
}

// GetTotalQuantums returns the number of quanta dispatched since Init,
// counting the one in progress.
func (lib *Library) GetTotalQuantums() (int, error) {
	lib.cs.enter()
	defer lib.cs.exit()
	if !lib.initialized {
		return 0, lib.libErr(ErrNotInitialized)
	}
	return lib.totalQuanta, nil
}

// GetQuantums returns the number of quanta a specific thread has run,
// counting the one in progress if it is the running thread.
func (lib *Library) GetQuantums(tid TID) (int, error) {
	lib.cs.enter()
	defer lib.cs.exit()
	if !lib.initialized {
		return 0, lib.libErr(ErrNotInitialized)
	}
	t := lib.table.lookup(tid)
	if t == nil {
		return 0, lib.libErr(ErrInvalidTID)
	}
	return t.personalQuanta, nil
}

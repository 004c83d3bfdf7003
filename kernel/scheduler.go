package kernel

import "runtime"

// dispatch is the scheduler's one internal routine, spec.md §4.6. It is
// invoked by the public API (reasonYield, reasonBlockedSelf,
// reasonTerminatedSelf) and by the timer driver (reasonPreempted).
//
// Only for reasonYield and reasonBlockedSelf is the calling goroutine
// guaranteed to be cur's own — those are the cases where a thread is
// giving up the CPU by calling into the library itself, so parking it in
// context.save is correct. reasonPreempted runs on the timer's own
// goroutine, or inline on whichever goroutine's cs.exit picked up a tick
// queued while the mask was held (critical.go); either way it never parks
// on cur's behalf. See DESIGN.md's Open Questions for why this is a
// deliberate, documented consequence of
// not having assembly-level preemption available, not a bug — and why no
// spec.md-required scenario is ever affected by it (every scenario either
// cooperates via a library call or never calls back into the library
// after being preempted).
//
// The corollary is tcb.parked: a thread force-preempted by the timer is
// marked READY without ever parking in context.save, so its goroutine
// keeps running in the background (SPEC_FULL.md §3). If that same thread
// is later chosen as next — by a later tick, or because some other
// thread cooperatively yields or blocks straight into it — calling
// restore() on it would block forever sending to a channel nobody is
// receiving from. dispatch checks parked before every restore() call and
// skips the call entirely when it is false: bookkeeping still advances
// (currentTID, quanta, state), but nothing is sent, since the thread is
// already physically running.
//
// The critical section mask is released at the wake point of whichever
// thread dispatch lands on next, never by the thread that called dispatch
// in the first place: cur may not run again for a long time (or ever), so
// the mask must travel with the baton, not stay pinned to cur's own call
// stack. The three places a thread can wake are this function's
// cooperative branch below, the first line of a freshly spawned goroutine
// (api.go, Spawn), and — when next turns out not to be parked — dispatch
// itself, immediately, since no other goroutine will ever reach a wake
// point to do it.
func (lib *Library) dispatch(reason dispatchReason) {
	cur := lib.table.lookup(lib.currentTID)

	if reason == reasonPreempted {
		lib.tickSleepers()
	}

	if reason != reasonTerminatedSelf && cur.hasPending {
		cur.priority = cur.pendingPriority
		cur.hasPending = false
	}

	switch reason {
	case reasonYield, reasonPreempted:
		cur.state = stateReady
		lib.queues.pushBack(cur.priority, cur.id)
	case reasonBlockedSelf, reasonTerminatedSelf:
		// state (or destruction) already handled by the caller.
	}

	var curCtx *context
	if reason != reasonTerminatedSelf {
		curCtx = cur.ctx
	}

	p, next, ok := lib.queues.popFrontOfHighestNonempty()
	if !ok {
		lib.systemError(ErrNoRunnableThread)
		return
	}
	nextTCB := lib.table.lookup(next)
	lib.currentTID = next
	nextTCB.state = stateRunning
	lib.totalQuanta++
	nextTCB.personalQuanta++
	lib.timer.armFor(p, lib.lengths)

	// next == cur.id only happens for reasonYield and reasonPreempted: cur
	// was the one thread requeued and is also the one thread popped back
	// off. There is no other goroutine to hand the baton to or park this
	// one into — for YIELD, cur's own goroutine would deadlock sending
	// and receiving on its own unbuffered wake channel with nothing else
	// scheduled to run first; for PREEMPTED, cur was never parked in
	// save to begin with. Either way the bookkeeping above already ran;
	// just hand the mask back to whoever calls exit next.
	//
	// cur is nil for reasonTerminatedSelf (the caller already removed its
	// TCB from the table before calling dispatch), so this check is
	// skipped outright rather than evaluating cur.id against a nil
	// pointer; it could never have matched for that reason anyway, since
	// a terminated thread's id no longer names a live TCB to match.
	if reason != reasonTerminatedSelf && next == cur.id {
		lib.cs.exit()
		return
	}

	wasParked := nextTCB.parked
	nextTCB.parked = false

	switch reason {
	case reasonTerminatedSelf:
		if wasParked {
			nextTCB.ctx.restore()
		} else {
			lib.cs.exit()
		}
		runtime.Goexit()
	case reasonPreempted:
		if wasParked {
			nextTCB.ctx.restore()
		} else {
			lib.cs.exit()
		}
	default:
		cur.parked = true
		if wasParked {
			nextTCB.ctx.restore()
		}
		curCtx.save()
		cur.parked = false
		lib.cs.exit()
	}
}

// handleTick is dispatch(PREEMPTED) reached via the timer; spec.md §4.6
// calls the two equivalent by construction. It is wired into
// criticalSection.onTick at Init.
func (lib *Library) handleTick() {
	lib.dispatch(reasonPreempted)
}

// tickSleepers decrements the remaining-quanta counter of every
// SLEEPING_BLOCKED thread, moving each to READY once its counter reaches
// zero — unless it is also explicitly blocked, in which case it settles
// into plain BLOCKED instead (spec.md §4.7, §9).
func (lib *Library) tickSleepers() {
	for i := 0; i < MaxThreads; i++ {
		t := lib.table.slots[i]
		if t == nil || t.state != stateSleepingBlocked {
			continue
		}
		if t.sleepRemaining > 0 {
			t.sleepRemaining--
		}
		if t.sleepRemaining > 0 {
			continue
		}
		if t.explicitBlock {
			t.state = stateBlocked
			continue
		}
		t.state = stateReady
		lib.queues.pushBack(t.priority, t.id)
	}
}

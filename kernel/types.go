// Package kernel implements the scheduler and thread lifecycle state
// machine at the heart of vthread: a fixed number of priority-indexed ready
// queues, a thread table, a virtual-time timer, and the context-switch
// primitive that ties them together. See SPEC_FULL.md for the full
// component breakdown; this file carries the data model of §3.
package kernel

import "time"

// TID is a thread id: a small non-negative integer. TID 0 is reserved for
// the thread that called Init.
type TID int

// NoTID is the sentinel "no such thread" value, returned by allocateTID
// when the table is full.
const NoTID TID = -1

// MaxThreads is the size of the thread table: TIDs are drawn from
// [0, MaxThreads).
const MaxThreads = 100

// StackSize is the size, in bytes, of the owned stack reservation tracked
// per spawned TCB. See SPEC_FULL.md §9 ("Stack ownership") for why this is
// bookkeeping rather than an actual switched-to stack under Go.
const StackSize = 4096

// state is a thread's lifecycle state (spec.md §3/§4.6).
type state int

const (
	stateRunning state = iota
	stateReady
	stateBlocked
	stateSleepingBlocked
)

func (s state) String() string {
	switch s {
	case stateRunning:
		return "RUNNING"
	case stateReady:
		return "READY"
	case stateBlocked:
		return "BLOCKED"
	case stateSleepingBlocked:
		return "SLEEPING_BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// dispatchReason is the argument to dispatch, spec.md §4.6.
type dispatchReason int

const (
	reasonYield dispatchReason = iota
	reasonBlockedSelf
	reasonTerminatedSelf
	reasonPreempted
)

// Priority is an index into the lengths table supplied to Init, in [0, P).
type Priority int

// tcb is one Thread Control Block, spec.md §3.
type tcb struct {
	id       TID
	state    state
	priority Priority

	// pendingPriority holds a ChangePriority request against a RUNNING
	// thread until its next dispatch, per spec.md §9's resolution of the
	// "priority-change latency" open question.
	pendingPriority Priority
	hasPending      bool

	// stack is an owned, fixed-size reservation; nil for TID 0, which
	// borrows the process's native stack (spec.md §3).
	stack []byte

	ctx *context

	// parked is true exactly when this thread's goroutine is genuinely
	// blocked in context.save, waiting for a matching restore. A thread
	// that was force-preempted by the timer (SPEC_FULL.md §3) is marked
	// READY without ever parking — its goroutine keeps running in the
	// background — so dispatch must check this before calling restore,
	// or it would block forever sending on a channel nobody is
	// receiving from.
	parked bool

	entry func()

	personalQuanta int

	// sleepRemaining and explicitBlock together realize SLEEPING_BLOCKED:
	// a thread can be asleep, explicitly blocked, or both at once. resume
	// on a sleeping-and-blocked thread clears explicitBlock but leaves
	// the thread asleep until sleepRemaining reaches zero (spec.md §9's
	// resolution of the "resume during sleep" open question).
	sleepRemaining int
	explicitBlock  bool
}

func (t *tcb) effectivePriority() Priority {
	return t.priority
}

// priorityTable is the immutable array of quantum lengths supplied to
// Init; lengths[p] is used whenever a thread of priority p is dispatched.
type priorityTable []time.Duration

func (pt priorityTable) valid() bool {
	if len(pt) == 0 {
		return false
	}
	for _, d := range pt {
		if d <= 0 {
			return false
		}
	}
	return true
}

// Package uthread is the classic C-style surface over kernel.Library: one
// process-wide scheduler instance, every operation returning 0 on success
// and -1 on failure instead of an idiomatic Go error, for callers porting
// code written against the original int-returning API. Callers that don't
// need that parity should use kernel.Library directly.
package uthread

import (
	"sync"
	"time"

	"vthread/kernel"
)

var (
	mu  sync.Mutex
	lib *kernel.Library
)

func instance() *kernel.Library {
	mu.Lock()
	defer mu.Unlock()
	if lib == nil {
		lib = kernel.New(kernel.Config{})
	}
	return lib
}

// Init installs the priority table, given as P positive microsecond
// quantum lengths, and adopts the calling goroutine as TID 0.
func Init(lengthsUsec []int) int {
	lengths := make([]time.Duration, len(lengthsUsec))
	for i, usec := range lengthsUsec {
		lengths[i] = time.Duration(usec) * time.Microsecond
	}
	if err := instance().Init(lengths); err != nil {
		return -1
	}
	return 0
}

// Spawn creates a new thread running entry at the given priority. It
// returns the new TID, or -1 on failure.
func Spawn(entry func(), priority int) int {
	tid, err := instance().Spawn(kernel.Priority(priority), entry)
	if err != nil {
		return -1
	}
	return int(tid)
}

// Terminate destroys tid. Terminating TID 0 exits the process; terminating
// the calling thread never returns.
func Terminate(tid int) int {
	if err := instance().Terminate(kernel.TID(tid)); err != nil {
		return -1
	}
	return 0
}

// Block moves tid to BLOCKED, switching immediately if tid is the running
// thread.
func Block(tid int) int {
	if err := instance().Block(kernel.TID(tid)); err != nil {
		return -1
	}
	return 0
}

// Resume clears an explicit block on tid.
func Resume(tid int) int {
	if err := instance().Resume(kernel.TID(tid)); err != nil {
		return -1
	}
	return 0
}

// Sleep parks the calling thread for n of its own quanta.
func Sleep(n int) int {
	if err := instance().Sleep(n); err != nil {
		return -1
	}
	return 0
}

// Yield gives up the remainder of the calling thread's quantum. It has no
// dedicated entry in the classic API; see kernel.Library.Yield.
func Yield() int {
	if err := instance().Yield(); err != nil {
		return -1
	}
	return 0
}

// ChangePriority sets tid's priority.
func ChangePriority(tid, priority int) int {
	if err := instance().ChangePriority(kernel.TID(tid), kernel.Priority(priority)); err != nil {
		return -1
	}
	return 0
}

// GetTid returns the currently running thread's TID, or -1 if the library
// is not initialized.
func GetTid() int {
	tid, err := instance().GetTid()
	if err != nil {
		return -1
	}
	return int(tid)
}

// GetTotalQuantums returns the number of quanta dispatched since Init.
func GetTotalQuantums() int {
	n, err := instance().GetTotalQuantums()
	if err != nil {
		return -1
	}
	return n
}

// GetQuantums returns the number of quanta tid has run, or -1 if tid is
// not live.
func GetQuantums(tid int) int {
	n, err := instance().GetQuantums(kernel.TID(tid))
	if err != nil {
		return -1
	}
	return n
}

package kernel

import "vthread/platform"

// timer is the driver of spec.md §4.4: a thin wrapper that arms a
// platform.TickSource with the quantum length of whichever thread was just
// dispatched, and routes the resulting tick into the critical section's
// requestTick so it is never delivered outside a mask.
type timer struct {
	src platform.TickSource
	cs  *criticalSection
}

func newTimer(src platform.TickSource, cs *criticalSection) *timer {
	return &timer{src: src, cs: cs}
}

func (t *timer) armFor(p Priority, lengths priorityTable) {
	t.src.Arm(lengths[p], t.cs.requestTick)
}

func (t *timer) disarm() {
	t.src.Disarm()
}

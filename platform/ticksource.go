package platform

import "time"

// TickSource arms a single one-shot countdown. Only one arm is ever pending;
// a second Arm call implicitly disarms the first. This is the platform
// primitive the scheduler's timer driver builds on: it says nothing about
// priorities or dispatch, only "call fire once after d has elapsed."
type TickSource interface {
	// Arm schedules fire to run, on its own goroutine, once d has elapsed.
	Arm(d time.Duration, fire func())

	// Disarm cancels a pending Arm, if any. It is a no-op if nothing is
	// armed or the countdown already fired.
	Disarm()
}

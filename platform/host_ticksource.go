package platform

import (
	"sync"
	"time"
)

// HostTickSource is the production TickSource: a wall-clock countdown via
// time.AfterFunc. spec.md's scenarios are explicitly defined "on an
// otherwise idle process," under which wall-clock elapsed time and CPU time
// consumed coincide, so a syscall-per-tick CPU-time poll (see CPUTimeReporter)
// is not needed on this hot path; it is used instead for the coarser,
// diagnostic-only virtual-time report.
type HostTickSource struct {
	mu    sync.Mutex
	timer *time.Timer
}

// NewHostTickSource returns a TickSource backed by time.AfterFunc.
func NewHostTickSource() *HostTickSource {
	return &HostTickSource{}
}

func (h *HostTickSource) Arm(d time.Duration, fire func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(d, fire)
}

func (h *HostTickSource) Disarm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

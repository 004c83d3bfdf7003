package platform

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// CPUTimeReporter samples this process's own CPU time (user+system), the
// quantity spec.md calls "virtual time" as distinct from wall-clock time.
// It exists for diagnostics only (the Library's shutdown log line), not for
// arming or correcting the per-quantum countdown; see HostTickSource's doc
// comment.
type CPUTimeReporter struct {
	proc *process.Process
}

// NewCPUTimeReporter opens a gopsutil handle on the calling process.
// It returns an error only if the platform cannot identify the current
// process; kernel.New ignores that error and simply omits the CPU-time
// figure from its shutdown diagnostic.
func NewCPUTimeReporter() (*CPUTimeReporter, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &CPUTimeReporter{proc: p}, nil
}

// Elapsed returns the CPU time this process has consumed so far (user +
// system), or zero if the underlying sample fails.
func (r *CPUTimeReporter) Elapsed() time.Duration {
	if r == nil || r.proc == nil {
		return 0
	}
	times, err := r.proc.Times()
	if err != nil {
		return 0
	}
	return time.Duration((times.User + times.System) * float64(time.Second))
}

package kernel

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"vthread/platform"
)

// Library is one scheduler instance: a thread table, a set of
// priority-indexed ready queues, the timer driver, and the critical
// section mask that ties calls into the scheduler together. The zero
// value is not usable; construct one with New.
type Library struct {
	logger platform.Logger
	cpu    *platform.CPUTimeReporter
	instance uuid.UUID

	cs    *criticalSection
	timer *timer

	lengths priorityTable
	table   table
	queues  *readyQueues

	initialized bool
	currentTID  TID
	totalQuanta int
}

// Config supplies the platform primitives a Library runs on. A zero
// Config is valid: New fills in host defaults for any field left nil,
// the same way the teacher's headless/host configs default a missing
// driver rather than requiring one (see platform.HostTickSource,
// platform.NewStderrLogger).
type Config struct {
	Logger     platform.Logger
	TickSource platform.TickSource
}

// New constructs a Library. It does not start scheduling anything until
// Init is called.
func New(cfg Config) *Library {
	logger := cfg.Logger
	if logger == nil {
		logger = platform.NewStderrLogger()
	}
	src := cfg.TickSource
	if src == nil {
		src = platform.NewHostTickSource()
	}
	cs := newCriticalSection()
	cpu, _ := platform.NewCPUTimeReporter()
	lib := &Library{
		logger:   logger,
		cpu:      cpu,
		instance: uuid.New(),
		cs:       cs,
		timer:    newTimer(src, cs),
	}
	cs.onTick = lib.handleTick
	return lib
}

// Init installs the thread table and ready queues, adopts the calling
// goroutine as TID 0, and arms the timer for TID 0's quantum. It is
// spec.md §4.7's init; lengths[p] is the quantum length used whenever a
// thread of priority p is dispatched.
func (lib *Library) Init(lengths []time.Duration) error {
	lib.cs.enter()
	defer lib.cs.exit()
	if lib.initialized {
		return lib.libErr(ErrAlreadyInitialized)
	}
	pt := priorityTable(lengths)
	if !pt.valid() {
		return lib.libErr(ErrInvalidPriorities)
	}

	lib.lengths = pt
	lib.queues = newReadyQueues(len(pt))
	lib.table = table{}

	main := &tcb{id: 0, state: stateRunning, priority: 0, ctx: newContext(0)}
	lib.table.insert(0, main)
	lib.currentTID = 0
	lib.totalQuanta = 1
	main.personalQuanta = 1
	lib.initialized = true

	lib.timer.armFor(0, lib.lengths)
	lib.logf("init: %d priority levels, instance %s", len(pt), lib.instance)
	return nil
}

// libErr logs a "thread library error:" diagnostic and returns err
// unchanged, for the caller-misuse class of failure spec.md §7 describes.
func (lib *Library) libErr(err error) error {
	lib.logger.WriteLine("thread library error: " + err.Error())
	return err
}

// systemError logs a "system error:" diagnostic and terminates the
// process, for the platform-primitive-failed class of failure spec.md §7
// describes. It never returns.
func (lib *Library) systemError(err error) {
	lib.logger.WriteLine("system error: " + err.Error())
	os.Exit(1)
}

func (lib *Library) logf(format string, args ...any) {
	lib.logger.WriteLine(fmt.Sprintf(format, args...))
}

// teardown disarms the timer and logs a closing diagnostic with the
// process's accumulated CPU time, if the platform could report one. It is
// called from Terminate(0) just before the process exits.
func (lib *Library) teardown() {
	lib.timer.disarm()
	if lib.cpu != nil {
		lib.logf("shutdown: instance %s, total quanta %d, cpu time %s",
			lib.instance, lib.totalQuanta, lib.cpu.Elapsed())
	}
}

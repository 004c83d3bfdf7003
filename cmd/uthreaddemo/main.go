// Command uthreaddemo exercises the uthread scheduler against a small,
// fixed workload and prints the dispatch trace it observes.
package main

import (
	"flag"
	"fmt"
	"os"

	"vthread/kernel"
	"vthread/uthread"
)

func main() {
	var quantumUsec int
	var priorities int
	var showVersion bool
	flag.IntVar(&quantumUsec, "quantum", 100000, "Quantum length in microseconds for priority 0.")
	flag.IntVar(&priorities, "priorities", 1, "Number of priority levels, all sharing -quantum.")
	flag.BoolVar(&showVersion, "version", false, "Print the scheduler's fixed limits and exit.")
	flag.Parse()

	if showVersion {
		fmt.Printf("vthread: max %d threads, %d-byte stack reservation each\n", kernel.MaxThreads, kernel.StackSize)
		return
	}

	if err := run(quantumUsec, priorities); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(quantumUsec int, priorities int) error {
	if priorities < 1 {
		return fmt.Errorf("priorities must be >= 1, got %d", priorities)
	}
	lengths := make([]int, priorities)
	for i := range lengths {
		lengths[i] = quantumUsec
	}
	if uthread.Init(lengths) != 0 {
		return fmt.Errorf("init failed")
	}

	tid := uthread.Spawn(func() {
		fmt.Printf("worker: tid=%d quantum=%d\n", uthread.GetTid(), uthread.GetQuantums(uthread.GetTid()))
	}, 0)
	if tid < 0 {
		return fmt.Errorf("spawn failed")
	}

	// Yield hands off to the worker deterministically; when it falls off
	// the end of its entry function it self-terminates and control
	// returns here, right after this call.
	uthread.Yield()

	fmt.Printf("main: total_quantums=%d\n", uthread.GetTotalQuantums())
	uthread.Terminate(0)
	return nil
}

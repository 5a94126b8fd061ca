//go:build linux
// +build linux

// File: internal/concurrency/pin_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux thread pinning for decode workers via sched_setaffinity(2).
// Pure Go: no libnuma dependency, so cross-compilation stays trivial.

package concurrency

import (
	"log"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentThread locks the calling goroutine to its OS thread and
// binds that thread to the given CPU. Failures are logged and ignored:
// affinity is an optimization, never a correctness requirement.
func PinCurrentThread(cpuID int) {
	runtime.LockOSThread()
	if cpuID < 0 {
		return
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		log.Printf("[concurrency] pin to cpu %d failed: %v", cpuID, err)
	}
}

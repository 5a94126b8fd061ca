//go:build !linux
// +build !linux

// File: internal/concurrency/pin_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation of PinCurrentThread for platforms without
// sched_setaffinity. The thread is still locked so decode workers keep
// a stable OS thread.

package concurrency

import "runtime"

// PinCurrentThread no-op pinning; locks the OS thread only.
func PinCurrentThread(cpuID int) {
	runtime.LockOSThread()
}

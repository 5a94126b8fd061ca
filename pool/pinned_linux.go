//go:build linux
// +build linux

// File: pool/pinned_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux page-locking for DMA-ready decode buffers. mlock(2) keeps the
// backing pages resident so host-to-device copies avoid page faults.

package pool

import "golang.org/x/sys/unix"

func lockSlice(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

func unlockSlice(b []byte) {
	if len(b) == 0 {
		return
	}
	// Best effort: the pages are unlocked at process exit regardless.
	_ = unix.Munlock(b)
}

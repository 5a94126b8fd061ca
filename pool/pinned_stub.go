//go:build !linux
// +build !linux

// File: pool/pinned_stub.go
// Author: momentics <momentics@gmail.com>
//
// No-op page locking for platforms without mlock support wired in.
// Buffers behave as plain pageable memory.

package pool

func lockSlice(b []byte) error { return nil }

func unlockSlice(b []byte) {}

// File: pool/buffer.go
// Package pool implements the minibatch buffers and the bounded tuple
// pools that connect the pipeline stages.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "unsafe"

// Elem constrains buffer element types to the two planes a minibatch
// carries: raw bytes (data, targets) and int32 scalars (meta).
type Elem interface {
	~uint8 | ~int32
}

type span struct {
	off int
	n   int
}

// Buffer is a contiguous, resizable region of T plus a per-item index.
// In the read stage it stores variable-length encoded items
// concatenated end to end; in the decode stage it is a flat
// fixed-stride region addressed directly. Backing memory grows on
// overflow and never shrinks, so steady-state epochs allocate nothing.
//
// A pinned buffer keeps its backing array locked in physical memory for
// DMA (see pinned_linux.go). Pinning follows the array across grows.
type Buffer[T Elem] struct {
	data   []T
	items  []span
	used   int
	pinned bool
}

// NewBuffer allocates a buffer with the given element capacity and zero
// items. Pinning failures are not fatal: the buffer degrades to plain
// pageable memory.
func NewBuffer[T Elem](capacity int, pinned bool) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer[T]{
		data:   make([]T, 0, capacity),
		pinned: pinned,
	}
	if pinned {
		b.pinned = lockSlice(sliceBytes(b.data[:cap(b.data)])) == nil
	}
	return b
}

// Data returns the backing array up to the current length.
func (b *Buffer[T]) Data() []T { return b.data }

// Pinned reports whether the backing array is locked for DMA.
func (b *Buffer[T]) Pinned() bool { return b.pinned }

// Len returns the current element length.
func (b *Buffer[T]) Len() int { return len(b.data) }

// ItemCount returns the number of indexed items.
func (b *Buffer[T]) ItemCount() int { return len(b.items) }

// Used returns the summed length of all indexed items.
func (b *Buffer[T]) Used() int { return b.used }

// Reset drops the item index and length, keeping capacity.
func (b *Buffer[T]) Reset() {
	b.items = b.items[:0]
	b.used = 0
	b.data = b.data[:0]
}

// Resize sets the length to n elements, growing the backing array if
// needed. Existing content is preserved up to min(old, n).
func (b *Buffer[T]) Resize(n int) {
	b.grow(n)
	b.data = b.data[:n]
}

// AppendItem copies src onto the end of the region and records it in
// the item index.
func (b *Buffer[T]) AppendItem(src []T) {
	off := len(b.data)
	b.grow(off + len(src))
	b.data = append(b.data, src...)
	b.items = append(b.items, span{off: off, n: len(src)})
	b.used += len(src)
}

// Item returns the i-th indexed item. The slice aliases the backing
// array and is valid until the next Reset or grow.
func (b *Buffer[T]) Item(i int) []T {
	s := b.items[i]
	return b.data[s.off : s.off+s.n]
}

// Swap exchanges the contents of two buffers in O(1). Pinning state
// travels with the backing arrays.
func (b *Buffer[T]) Swap(o *Buffer[T]) {
	b.data, o.data = o.data, b.data
	b.items, o.items = o.items, b.items
	b.used, o.used = o.used, b.used
	b.pinned, o.pinned = o.pinned, b.pinned
}

// Free unlocks pinned memory. The buffer must not be used afterwards.
func (b *Buffer[T]) Free() {
	if b.pinned && cap(b.data) > 0 {
		unlockSlice(sliceBytes(b.data[:cap(b.data)]))
	}
	b.data = nil
	b.items = nil
	b.used = 0
}

// grow ensures capacity for at least n elements, repinning on
// reallocation.
func (b *Buffer[T]) grow(n int) {
	if n <= cap(b.data) {
		return
	}
	newCap := cap(b.data) * 2
	if newCap < n {
		newCap = n
	}
	fresh := make([]T, len(b.data), newCap)
	copy(fresh, b.data)
	if b.pinned {
		if lockSlice(sliceBytes(fresh[:cap(fresh)])) != nil {
			b.pinned = false
		}
		unlockSlice(sliceBytes(b.data[:cap(b.data)]))
	}
	b.data = fresh
}

// sliceBytes reinterprets a non-empty slice of T as its raw bytes for
// the page-locking syscalls.
func sliceBytes[T Elem](s []T) []byte {
	if cap(s) == 0 {
		return nil
	}
	n := len(s) * int(unsafe.Sizeof(s[0]))
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n)
}

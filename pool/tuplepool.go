// File: pool/tuplepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TuplePool is the bounded mailbox between pipeline stages: a circular
// queue of BufferTuples with one mutex and two condition variables.
// Waiting and signalling are split from cursor advancement so a
// producer can hold its slot across multi-step work (decode, transpose,
// device copy) and commit only once the slot is durable.

package pool

import "sync"

// BufferTuple is one minibatch in flight: encoded or decoded data,
// targets, and int32 metadata. Meta holds 2*batchSize scalars: the
// first batchSize are written by the media transformer, the second
// batchSize record encoded target lengths when target decoding is
// disabled. DeviceSlot is stamped by the decode manager with the device
// slot this tuple was copied into.
type BufferTuple struct {
	Data       *Buffer[byte]
	Targets    *Buffer[byte]
	Meta       *Buffer[int32]
	DeviceSlot int
}

// WaitResult is the outcome of a pool wait.
type WaitResult int

const (
	// Ready: the awaited occupancy condition holds and the cursor slot
	// is owned by the caller.
	Ready WaitResult = iota
	// Closed: the pool was closed. Read-side waits report Closed only
	// once remaining tuples have been drained.
	Closed
	// Aborted: the caller's abort predicate became true.
	Aborted
)

// TuplePool is a bounded FIFO of slots tuples. The zero value is not
// usable; construct with NewTuplePool.
//
// Locking protocol: Lock/Unlock bracket every cursor operation and
// occupancy predicate. A tuple returned by GetForWrite is exclusively
// owned by the producer until AdvanceWritePos; symmetrically for reads.
// The pool never aliases a reader-owned and a writer-owned slot.
type TuplePool struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	nonFull  *sync.Cond

	tuples   []*BufferTuple
	readPos  int
	writePos int
	count    int
	closed   bool
}

// NewTuplePool builds a pool of slots tuples, each sized with the given
// element capacities. Decode-side pools pass pinned=true when the
// device needs DMA-ready host memory.
func NewTuplePool(slots, dataCap, targetCap, metaCap int, pinned bool) *TuplePool {
	if slots < 1 {
		slots = 1
	}
	p := &TuplePool{tuples: make([]*BufferTuple, slots)}
	p.nonEmpty = sync.NewCond(&p.mu)
	p.nonFull = sync.NewCond(&p.mu)
	for i := range p.tuples {
		p.tuples[i] = &BufferTuple{
			Data:    NewBuffer[byte](dataCap, pinned),
			Targets: NewBuffer[byte](targetCap, pinned),
			Meta:    NewBuffer[int32](metaCap, pinned),
		}
	}
	return p
}

// Lock acquires the pool mutex.
func (p *TuplePool) Lock() { p.mu.Lock() }

// Unlock releases the pool mutex.
func (p *TuplePool) Unlock() { p.mu.Unlock() }

// Empty reports count==0. Caller must hold the pool lock.
func (p *TuplePool) Empty() bool { return p.count == 0 }

// Full reports count==slots. Caller must hold the pool lock.
func (p *TuplePool) Full() bool { return p.count == len(p.tuples) }

// Len returns the current occupancy, taking the lock itself.
func (p *TuplePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Slots returns the fixed capacity.
func (p *TuplePool) Slots() int { return len(p.tuples) }

// GetForWrite returns the tuple at the write cursor. Caller must hold
// the lock and have observed ¬Full (via WaitNonFull).
func (p *TuplePool) GetForWrite() *BufferTuple { return p.tuples[p.writePos] }

// GetForRead returns the tuple at the read cursor. Caller must hold the
// lock and have observed ¬Empty (via WaitNonEmpty).
func (p *TuplePool) GetForRead() *BufferTuple { return p.tuples[p.readPos] }

// AdvanceWritePos commits the write-cursor tuple. Caller holds the lock.
func (p *TuplePool) AdvanceWritePos() {
	p.writePos = (p.writePos + 1) % len(p.tuples)
	p.count++
}

// AdvanceReadPos releases the read-cursor tuple. Caller holds the lock.
func (p *TuplePool) AdvanceReadPos() {
	p.readPos = (p.readPos + 1) % len(p.tuples)
	p.count--
}

// SignalNonEmpty wakes one consumer.
func (p *TuplePool) SignalNonEmpty() { p.nonEmpty.Signal() }

// SignalNonFull wakes one producer.
func (p *TuplePool) SignalNonFull() { p.nonFull.Signal() }

// WaitNonFull blocks until the pool is not full, closed, or abort
// returns true. Caller holds the lock; the lock is released while
// waiting and reacquired before return. Writes are refused as soon as
// the pool closes.
func (p *TuplePool) WaitNonFull(abort func() bool) WaitResult {
	for p.count == len(p.tuples) && !p.closed && !(abort != nil && abort()) {
		p.nonFull.Wait()
	}
	switch {
	case p.closed:
		return Closed
	case p.count < len(p.tuples):
		return Ready
	default:
		return Aborted
	}
}

// WaitNonEmpty blocks until the pool is not empty, closed and drained,
// or abort returns true. Remaining tuples stay readable after Close so
// in-flight minibatches are never lost.
func (p *TuplePool) WaitNonEmpty(abort func() bool) WaitResult {
	for p.count == 0 && !p.closed && !(abort != nil && abort()) {
		p.nonEmpty.Wait()
	}
	switch {
	case p.count > 0:
		return Ready
	case p.closed:
		return Closed
	default:
		return Aborted
	}
}

// Close marks the pool closed and wakes every waiter. Idempotent.
func (p *TuplePool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.nonEmpty.Broadcast()
	p.nonFull.Broadcast()
}

// Closed reports whether Close was called.
func (p *TuplePool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// WakeAll broadcasts both condition variables without changing state.
// It does not take the pool lock, so it never blocks behind a stage
// that holds the mutex across multi-step work. Shutdown paths call it
// repeatedly after flipping their stop flags, so a waiter that misses
// one broadcast is woken by the next and re-checks its predicate.
func (p *TuplePool) WakeAll() {
	p.nonEmpty.Broadcast()
	p.nonFull.Broadcast()
}

// Free releases the buffers of every slot, unlocking pinned memory.
// The pool must be quiescent.
func (p *TuplePool) Free() {
	for _, t := range p.tuples {
		t.Data.Free()
		t.Targets.Free()
		t.Meta.Free()
	}
}

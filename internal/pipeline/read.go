// File: internal/pipeline/read.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ReadStage: the single-worker stage that fills read-pool slots with
// encoded minibatches from the Reader collaborator.

package pipeline

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/nomi-wei/neon/api"
	"github.com/nomi-wei/neon/control"
	"github.com/nomi-wei/neon/pool"
)

// ReadStage drives one Reader from one goroutine. A failed Read closes
// the output pool so downstream stages drain and observe shutdown.
type ReadStage struct {
	out     *pool.TuplePool
	reader  api.Reader
	metrics *control.MetricsRegistry

	stopping atomic.Bool
	stopped  atomic.Bool
	err      atomic.Value // error
	wg       sync.WaitGroup
}

// NewReadStage wires the stage; Start launches it.
func NewReadStage(out *pool.TuplePool, reader api.Reader, metrics *control.MetricsRegistry) *ReadStage {
	return &ReadStage{out: out, reader: reader, metrics: metrics}
}

// Start spawns the read goroutine.
func (s *ReadStage) Start() {
	s.wg.Add(1)
	go s.run()
}

// RequestStop flags the stage to exit and wakes it if parked on the
// pool. Non-blocking: the goroutine may still be inside a read, or
// queued on the pool mutex behind the decode manager, so the caller
// must keep draining downstream and waking the pool until Stopped
// reports true (the wait re-checks the flag after every wake).
func (s *ReadStage) RequestStop() {
	s.stopping.Store(true)
	s.out.WakeAll()
}

// Join blocks until the stage goroutine has fully exited.
func (s *ReadStage) Join() {
	s.wg.Wait()
}

// Stopped reports whether the goroutine has exited.
func (s *ReadStage) Stopped() bool { return s.stopped.Load() }

// Err returns the fatal reader error, if any.
func (s *ReadStage) Err() error {
	if v := s.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (s *ReadStage) run() {
	defer s.wg.Done()
	defer s.stopped.Store(true)
	for !s.stopping.Load() {
		if !s.produce() {
			return
		}
	}
}

// produce fills exactly one read slot. Returns false when the stage
// must exit (stop requested, pool closed, or reader failure).
func (s *ReadStage) produce() bool {
	s.out.Lock()
	if s.out.WaitNonFull(s.stopping.Load) != pool.Ready {
		s.out.Unlock()
		return false
	}
	tuple := s.out.GetForWrite()
	if err := s.reader.Read(tuple); err != nil {
		s.out.Unlock()
		s.err.Store(err)
		log.Printf("[readstage] reader failed: %v", err)
		// Closing the pool lets the decode manager drain what is
		// already buffered, then observe shutdown.
		s.out.Close()
		return false
	}
	s.out.AdvanceWritePos()
	s.out.Unlock()
	s.out.SignalNonEmpty()
	s.metrics.Add("read.batches", 1)
	return true
}

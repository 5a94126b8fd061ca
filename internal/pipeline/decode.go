// File: internal/pipeline/decode.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DecodePool: N decode workers plus one manager goroutine. The manager
// pulls a filled read slot, fans the minibatch out to the workers over
// disjoint item partitions, awaits the completion barrier, transposes
// the decoded planes to element-major layout, copies them to the
// current device slot and publishes the tuple downstream.
//
// The fan-out barrier is a generation counter: the manager bumps the
// generation and broadcasts; each worker runs one round per observed
// generation and signals completion. The manager resets the pending
// count before every round, so a worker can never run two rounds on one
// generation and the manager can never publish before all workers have
// acknowledged.

package pipeline

import (
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/nomi-wei/neon/api"
	"github.com/nomi-wei/neon/control"
	"github.com/nomi-wei/neon/internal/concurrency"
	"github.com/nomi-wei/neon/pool"
)

// DecodeParams is the fixed per-run geometry of the decode stage.
type DecodeParams struct {
	Workers          int
	BatchSize        int
	DatumSize        int // decoded datum elements
	DatumTypeSize    int // bytes per datum element
	TargetSize       int // decoded target elements
	TargetTypeSize   int // bytes per target element
	TargetConversion api.TargetConversion
	PinWorkers       bool
}

// DecodePool owns the decode workers, the manager, and one media
// transformer per worker. It borrows both pools non-owningly.
type DecodePool struct {
	p         DecodeParams
	datumLen  int // datum stride in bytes
	targetLen int // target stride in bytes

	in      *pool.TuplePool
	out     *pool.TuplePool
	device  api.Device
	media   []api.Media
	metrics *control.MetricsRegistry

	// Work state, guarded by mu. started/ended form the per-round
	// barrier between manager and workers.
	mu         sync.Mutex
	started    *sync.Cond
	ended      *sync.Cond
	generation uint64
	pending    int
	input      *pool.BufferTuple
	output     *pool.BufferTuple
	workErr    error
	done       bool

	// Worker partitions, precomputed once.
	startInds     []int
	endInds       []int
	dataOffsets   []int
	targetOffsets []int

	scratch []byte // transpose scratch, reused every round

	bufferIndex    int // device slot toggle, manager-private
	stopManager    atomic.Bool
	managerStopped atomic.Bool
	devErr         atomic.Value // error

	workerWG  sync.WaitGroup
	managerWG sync.WaitGroup
}

// NewDecodePool validates the partition geometry and constructs one
// media instance per worker. No goroutines are spawned until Start, so
// a constructor error leaves no partial state behind.
func NewDecodePool(p DecodeParams, in, out *pool.TuplePool, device api.Device,
	mediaFactory api.MediaFactory, metrics *control.MetricsRegistry) (*DecodePool, error) {

	if p.Workers < 1 || p.Workers > p.BatchSize {
		return nil, fmt.Errorf("decode: worker count %d outside [1,%d]", p.Workers, p.BatchSize)
	}
	d := &DecodePool{
		p:         p,
		datumLen:  p.DatumSize * p.DatumTypeSize,
		targetLen: p.TargetSize * p.TargetTypeSize,
		in:        in,
		out:       out,
		device:    device,
		metrics:   metrics,
	}
	d.started = sync.NewCond(&d.mu)
	d.ended = sync.NewCond(&d.mu)

	itemsPerThread := (p.BatchSize-1)/p.Workers + 1
	if itemsPerThread*p.Workers < p.BatchSize || itemsPerThread*(p.Workers-1) >= p.BatchSize {
		return nil, fmt.Errorf("decode: partition %d items x %d workers does not cover batch %d",
			itemsPerThread, p.Workers, p.BatchSize)
	}
	d.media = make([]api.Media, p.Workers)
	d.startInds = make([]int, p.Workers)
	d.endInds = make([]int, p.Workers)
	d.dataOffsets = make([]int, p.Workers)
	d.targetOffsets = make([]int, p.Workers)
	for id := 0; id < p.Workers; id++ {
		m, err := mediaFactory(id)
		if err != nil {
			return nil, fmt.Errorf("decode: media for worker %d: %w", id, err)
		}
		d.media[id] = m
		start := id * itemsPerThread
		end := start + itemsPerThread
		if end > p.BatchSize {
			end = p.BatchSize
		}
		d.startInds[id] = start
		d.endInds[id] = end
		d.dataOffsets[id] = start * d.datumLen
		d.targetOffsets[id] = start * d.targetLen
	}
	scratchLen := p.BatchSize * d.datumLen
	if t := p.BatchSize * d.targetLen; t > scratchLen {
		scratchLen = t
	}
	d.scratch = make([]byte, scratchLen)
	return d, nil
}

// Partition returns worker id's item range. Exposed for tests.
func (d *DecodePool) Partition(id int) (start, end int) {
	return d.startInds[id], d.endInds[id]
}

// Workers returns the decode worker count.
func (d *DecodePool) Workers() int { return d.p.Workers }

// Err returns the fatal device error observed by the manager, if any.
func (d *DecodePool) Err() error {
	if v := d.devErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Start launches the workers first, then the manager.
func (d *DecodePool) Start() {
	for id := 0; id < d.p.Workers; id++ {
		d.workerWG.Add(1)
		go d.run(id)
	}
	d.managerWG.Add(1)
	go d.manage()
}

// Stop shuts the stage down: workers first (so a mid-round barrier
// aborts), then the manager. Waits re-check their flags after every
// wake, and the flags are flipped before the broadcasts, so no waiter
// can sleep through shutdown.
func (d *DecodePool) Stop() {
	d.mu.Lock()
	d.done = true
	d.mu.Unlock()
	d.started.Broadcast()
	d.ended.Broadcast()
	d.workerWG.Wait()

	d.stopManager.Store(true)
	for !d.managerStopped.Load() {
		d.in.WakeAll()
		d.out.WakeAll()
		runtime.Gosched()
	}
	d.managerWG.Wait()
}

// ManagerStopped reports whether the manager goroutine has exited.
func (d *DecodePool) ManagerStopped() bool { return d.managerStopped.Load() }

// manage is the manager goroutine body.
func (d *DecodePool) manage() {
	defer d.managerWG.Done()
	defer d.managerStopped.Store(true)

	if err := d.device.Init(); err != nil {
		d.devErr.Store(err)
		log.Printf("[decode] device init failed: %v", err)
		d.stopManager.Store(true)
		d.out.Close()
		return
	}
	for !d.stopManager.Load() {
		if !d.consume() {
			return
		}
	}
}

// consume pins one input tuple and runs the decode step for it. The
// input slot is released only after produce has durably committed the
// output. Returns false when the manager must exit.
func (d *DecodePool) consume() bool {
	d.in.Lock()
	switch d.in.WaitNonEmpty(d.stopManager.Load) {
	case pool.Ready:
	case pool.Closed:
		// Upstream is done for good: propagate so the consumer's
		// blocking wait observes shutdown after draining.
		d.in.Unlock()
		d.out.Close()
		return false
	default:
		d.in.Unlock()
		return false
	}
	input := d.in.GetForRead()
	ok := d.produce(input)
	d.in.AdvanceReadPos()
	d.in.Unlock()
	d.in.SignalNonFull()
	return ok
}

// produce decodes one minibatch into the current output slot while
// holding the decode-pool mutex for the entire step.
func (d *DecodePool) produce(input *pool.BufferTuple) bool {
	d.out.Lock()
	defer d.out.Unlock()
	if d.out.WaitNonFull(d.stopManager.Load) != pool.Ready {
		return false
	}
	output := d.out.GetForWrite()
	output.Data.Resize(d.p.BatchSize * d.datumLen)
	output.Targets.Resize(d.p.BatchSize * d.targetLen)
	output.Meta.Resize(2 * d.p.BatchSize)

	// Fan out: publish the round under the work mutex, then broadcast.
	d.mu.Lock()
	d.input = input
	d.output = output
	d.pending = d.p.Workers
	d.generation++
	d.mu.Unlock()
	d.started.Broadcast()

	// Barrier: wait for every worker to acknowledge the round.
	d.mu.Lock()
	for d.pending > 0 && !d.done {
		d.ended.Wait()
	}
	aborted := d.done
	err := d.workErr
	d.workErr = nil
	d.mu.Unlock()
	if aborted {
		return false
	}
	if err != nil {
		log.Printf("[decode] transform error in minibatch: %v", err)
	}

	// Decoded planes are item-major; training kernels want
	// element-major. Transpose through the scratch buffer.
	data := output.Data.Data()
	Transpose(d.scratch, data, d.p.BatchSize, d.p.DatumSize, d.p.DatumTypeSize)
	copy(data, d.scratch[:len(data)])
	targets := output.Targets.Data()
	Transpose(d.scratch, targets, d.p.BatchSize, d.p.TargetSize, d.p.TargetTypeSize)
	copy(targets, d.scratch[:len(targets)])

	if err := d.copyToDevice(output); err != nil {
		d.devErr.Store(err)
		log.Printf("[decode] device copy failed: %v", err)
		d.stopManager.Store(true)
		d.out.Close()
		return false
	}
	output.DeviceSlot = d.bufferIndex
	d.bufferIndex ^= 1

	d.out.AdvanceWritePos()
	d.out.SignalNonEmpty()
	d.metrics.Add("decode.batches", 1)
	return true
}

func (d *DecodePool) copyToDevice(t *pool.BufferTuple) error {
	if err := d.device.CopyData(d.bufferIndex, t.Data); err != nil {
		return err
	}
	if err := d.device.CopyLabels(d.bufferIndex, t.Targets); err != nil {
		return err
	}
	return d.device.CopyMeta(d.bufferIndex, t.Meta)
}

// run is the worker goroutine body for worker id.
func (d *DecodePool) run(id int) {
	defer d.workerWG.Done()
	if d.p.PinWorkers {
		concurrency.PinCurrentThread(id % runtime.NumCPU())
	}
	var lastGen uint64
	for {
		d.mu.Lock()
		for d.generation == lastGen && !d.done {
			d.started.Wait()
		}
		if d.done {
			d.mu.Unlock()
			return
		}
		lastGen = d.generation
		input, output := d.input, d.output
		d.mu.Unlock()

		err := d.decodeRange(id, input, output)

		d.mu.Lock()
		d.pending--
		if err != nil && d.workErr == nil {
			d.workErr = err
		}
		d.mu.Unlock()
		d.ended.Signal()
	}
}

// decodeRange decodes worker id's partition. No locking: workers write
// into non-overlapping regions of the output tuple.
func (d *DecodePool) decodeRange(id int, input, output *pool.BufferTuple) error {
	start, end := d.startInds[id], d.endInds[id]
	data := output.Data.Data()
	targets := output.Targets.Data()
	meta := output.Meta.Data()
	media := d.media[id]

	dataOff := d.dataOffsets[id]
	targetOff := d.targetOffsets[id]
	var firstErr error
	for i := start; i < end; i++ {
		encDatum := input.Data.Item(i)
		encTarget := input.Targets.Item(i)
		datumBuf := data[dataOff : dataOff+d.datumLen]
		targetBuf := targets[targetOff : targetOff+d.targetLen]

		var err error
		if d.p.TargetConversion == api.ConvertReadContents {
			err = media.TransformJoint(encDatum, encTarget, datumBuf, targetBuf)
		} else {
			err = media.Transform(encDatum, datumBuf, &meta[i])
			n := copy(targetBuf, encTarget)
			clear(targetBuf[n:])
			if len(encTarget) > d.targetLen {
				d.metrics.Add("decode.target_truncated", 1)
			}
			meta[d.p.BatchSize+i] = int32(len(encTarget))
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		dataOff += d.datumLen
		targetOff += d.targetLen
	}
	return firstErr
}

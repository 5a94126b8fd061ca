// File: loader/loader.go
// Unified facade for the staged minibatch pipeline.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loader wires reader, pools, decode stage and device behind a single
// type with a Start/Stop/Reset/Next lifecycle. The Loader exclusively
// owns pools, stages, device and reader; stages borrow pool references
// non-owningly, and media transformer instances are owned by the
// decode pool. The ownership graph is a tree, so teardown is a single
// pass with no cycles.

package loader

import (
	"fmt"
	"runtime"

	"github.com/google/uuid"

	"github.com/nomi-wei/neon/api"
	"github.com/nomi-wei/neon/control"
	"github.com/nomi-wei/neon/device"
	"github.com/nomi-wei/neon/internal/pipeline"
	"github.com/nomi-wei/neon/media"
	"github.com/nomi-wei/neon/pool"
	"github.com/nomi-wei/neon/reader"
)

// readPoolSlots bounds the encoded-batch backlog between reader and
// decoder. Two slots keep the reader one batch ahead without letting
// it run away.
const readPoolSlots = 2

// Loader is the pipeline facade handed to the trainer.
type Loader struct {
	cfg          *control.Config
	dev          api.Device
	rd           api.Reader
	mediaFactory api.MediaFactory
	metrics      *control.MetricsRegistry

	readBufs   *pool.TuplePool
	decodeBufs *pool.TuplePool
	readStage  *pipeline.ReadStage
	decodePool *pipeline.DecodePool

	// holding is true while the trainer owns the tuple returned by the
	// previous Next; the slot is released at the top of the next call.
	holding bool
	started bool
}

var _ api.GracefulShutdown = (*Loader)(nil)

// New wires a loader from explicit collaborators. No goroutines run
// and no buffers exist until Start.
func New(cfg *control.Config, dev api.Device, rd api.Reader, mf api.MediaFactory) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dev == nil || rd == nil || mf == nil {
		return nil, fmt.Errorf("loader: nil collaborator")
	}
	return &Loader{
		cfg:          cfg,
		dev:          dev,
		rd:           rd,
		mediaFactory: mf,
		metrics:      control.NewMetricsRegistry(),
	}, nil
}

// FromConfig builds every collaborator from the configuration: device
// backend, media codec, and reader source.
func FromConfig(cfg *control.Config) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dev, err := device.New(cfg)
	if err != nil {
		return nil, err
	}
	mf, err := media.Factory(cfg.Media)
	if err != nil {
		return nil, err
	}
	var rd api.Reader
	switch cfg.Reader.Source {
	case "", "synthetic":
		min := cfg.DatumLen() / 2
		if min < 1 {
			min = 1
		}
		rd = reader.NewSynthetic(cfg.BatchSize, min, cfg.DatumLen(), cfg.TargetLen())
	case "batchfile":
		if rd, err = reader.NewBatchFile(cfg.Reader, cfg.BatchSize); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("loader: unknown reader source %q", cfg.Reader.Source)
	}
	return New(cfg, dev, rd, mf)
}

// workerCount picks the smallest worker count whose per-worker item
// share saturates the available cores without exceeding the batch.
func workerCount(batchSize int) int {
	cores := runtime.NumCPU()
	itemsPerThread := (batchSize-1)/cores + 1
	workers := (batchSize-1)/itemsPerThread + 1
	if workers > batchSize {
		workers = batchSize
	}
	return workers
}

// Start allocates both pools and spawns the decode stage before the
// read stage, so the reader never fills a queue nobody drains. An
// error leaves the loader unstarted with no goroutines or buffers.
func (l *Loader) Start() error {
	if l.started {
		return nil
	}
	l.holding = false
	cfg := l.cfg
	dataLen := cfg.BatchSize * cfg.DatumLen()
	targetLen := cfg.BatchSize * cfg.TargetLen()
	metaLen := 2 * cfg.BatchSize

	// Read buffers hold variable-length encoded items; start them at a
	// fraction of the decoded size and let them grow to fit.
	readCap := dataLen / 8
	if readCap < 1 {
		readCap = 1
	}
	readBufs := pool.NewTuplePool(readPoolSlots, readCap, targetLen, metaLen, false)
	pinned := l.dev.Type() != api.CPU
	decodeBufs := pool.NewTuplePool(api.DeviceSlots, dataLen, targetLen, metaLen, pinned)

	workers := workerCount(cfg.BatchSize)
	decodePool, err := pipeline.NewDecodePool(pipeline.DecodeParams{
		Workers:          workers,
		BatchSize:        cfg.BatchSize,
		DatumSize:        cfg.DatumSize,
		DatumTypeSize:    cfg.DatumTypeSize,
		TargetSize:       cfg.TargetSize,
		TargetTypeSize:   cfg.TargetTypeSize,
		TargetConversion: api.TargetConversion(cfg.TargetConversion),
		PinWorkers:       cfg.PinWorkers,
	}, readBufs, decodeBufs, l.dev, l.mediaFactory, l.metrics)
	if err != nil {
		readBufs.Free()
		decodeBufs.Free()
		return err
	}

	l.readBufs = readBufs
	l.decodeBufs = decodeBufs
	l.decodePool = decodePool
	l.readStage = pipeline.NewReadStage(readBufs, l.rd, l.metrics)

	l.metrics.Set("loader.run_id", uuid.NewString())
	l.metrics.Set("loader.workers", workers)
	l.metrics.Set("loader.pinned", pinned)

	l.decodePool.Start()
	l.readStage.Start()
	l.started = true
	return nil
}

// Stop tears the pipeline down: stop the read stage, drain both pools
// so in-flight minibatches flush through, stop the decode stage, then
// release the buffers. Safe to call on a stopped loader.
func (l *Loader) Stop() {
	if !l.started {
		return
	}
	// The read goroutine may be queued on the read-pool mutex behind a
	// manager that is itself waiting for a free decode slot, so keep
	// draining decoded output until the read stage actually exits.
	l.readStage.RequestStop()
	for !l.readStage.Stopped() {
		l.readBufs.WakeAll()
		l.drainOne()
		runtime.Gosched()
	}
	l.readStage.Join()
	// Flush whatever the pipeline still holds so the manager goes idle.
	for {
		if l.decodePool.ManagerStopped() {
			for l.decodeBufs.Len() > 0 {
				l.drainOne()
			}
			break
		}
		if l.decodeBufs.Len() == 0 && l.readBufs.Len() == 0 {
			break
		}
		l.drainOne()
		runtime.Gosched()
	}
	l.decodePool.Stop()

	l.readBufs.Close()
	l.decodeBufs.Close()
	l.readBufs.Free()
	l.decodeBufs.Free()
	l.readBufs = nil
	l.decodeBufs = nil
	l.readStage = nil
	l.decodePool = nil
	l.started = false
}

// Reset restarts the pipeline from the reader's initial position,
// preserving configuration.
func (l *Loader) Reset() error {
	l.Stop()
	l.rd.Reset()
	return l.Start()
}

// Next blocks until the next minibatch is decoded and device-resident,
// releasing the previously returned one first. Releasing before
// blocking maximizes pipeline depth: the decode stage refills slot k-1
// while the trainer consumes slot k. The returned tuple stays owned by
// the pipeline until the next call to Next (or Stop); its DeviceSlot
// names the device slot holding the same minibatch.
func (l *Loader) Next() (*pool.BufferTuple, error) {
	p := l.decodeBufs
	if p == nil {
		return nil, api.ErrNotStarted
	}
	p.Lock()
	if l.holding {
		p.AdvanceReadPos()
		p.SignalNonFull()
		l.holding = false
	}
	if p.WaitNonEmpty(nil) != pool.Ready {
		p.Unlock()
		return nil, l.pipelineErr()
	}
	tuple := p.GetForRead()
	l.holding = true
	p.Unlock()
	l.metrics.Add("loader.batches", 1)
	return tuple, nil
}

// NextInto copies the next minibatch's host planes into the supplied
// slices and releases the slot immediately. Test path; do not mix with
// Next on the same run.
func (l *Loader) NextInto(data, targets []byte) error {
	p := l.decodeBufs
	if p == nil {
		return api.ErrNotStarted
	}
	p.Lock()
	if p.WaitNonEmpty(nil) != pool.Ready {
		p.Unlock()
		return l.pipelineErr()
	}
	tuple := p.GetForRead()
	copy(data, tuple.Data.Data())
	copy(targets, tuple.Targets.Data())
	p.AdvanceReadPos()
	p.Unlock()
	p.SignalNonFull()
	l.metrics.Add("loader.batches", 1)
	return nil
}

// drainOne releases one decoded minibatch without consuming it.
func (l *Loader) drainOne() {
	p := l.decodeBufs
	p.Lock()
	if p.Empty() {
		p.Unlock()
		return
	}
	p.AdvanceReadPos()
	p.Unlock()
	p.SignalNonFull()
}

// pipelineErr maps a shut-down pipeline to its root cause.
func (l *Loader) pipelineErr() error {
	if l.readStage != nil {
		if err := l.readStage.Err(); err != nil {
			return fmt.Errorf("loader: reader failed: %w", err)
		}
	}
	if l.decodePool != nil {
		if err := l.decodePool.Err(); err != nil {
			return fmt.Errorf("loader: device failed: %w", err)
		}
	}
	return api.ErrStopped
}

// Shutdown stops the pipeline and releases the device.
func (l *Loader) Shutdown() error {
	l.Stop()
	return l.dev.Close()
}

// Reader exposes the reader collaborator for harnesses.
func (l *Loader) Reader() api.Reader { return l.rd }

// Device exposes the device collaborator for harnesses.
func (l *Loader) Device() api.Device { return l.dev }

// Metrics exposes the run metrics registry.
func (l *Loader) Metrics() *control.MetricsRegistry { return l.metrics }

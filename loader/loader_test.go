package loader

import (
	"runtime"
	"testing"
	"time"

	"github.com/nomi-wei/neon/api"
	"github.com/nomi-wei/neon/control"
	"github.com/nomi-wei/neon/device"
	"github.com/nomi-wei/neon/media"
	"github.com/nomi-wei/neon/reader"
)

func testConfig(batch int) *control.Config {
	cfg := control.DefaultConfig()
	cfg.BatchSize = batch
	cfg.DatumSize = 32
	cfg.DatumTypeSize = 1
	cfg.TargetSize = 1
	cfg.TargetTypeSize = 4
	return cfg
}

func newTestLoader(t *testing.T, cfg *control.Config, syn *reader.SyntheticReader) *Loader {
	t.Helper()
	dev := device.NewCPU(cfg.BatchSize*cfg.DatumLen(), cfg.BatchSize*cfg.TargetLen(), 2*cfg.BatchSize)
	mf := func(int) (api.Media, error) { return media.NewRaw(), nil }
	l, err := New(cfg, dev, syn, mf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func byteSum(b []byte) uint64 {
	var s uint64
	for _, v := range b {
		s += uint64(v)
	}
	return s
}

// singlePass decodes the same stream single-threaded, the way the
// pipeline would, and returns its content sum. Mirrors the concurrent
// path: decode to stride, truncate and pad targets.
func singlePass(cfg *control.Config, syn *reader.SyntheticReader, epochs, batches int) uint64 {
	m := media.NewRaw()
	datumLen := cfg.DatumLen()
	targetLen := cfg.TargetLen()
	datumBuf := make([]byte, datumLen)
	targetBuf := make([]byte, targetLen)
	var sum uint64
	for e := 0; e < epochs; e++ {
		syn.Reset()
		for mb := 0; mb < batches; mb++ {
			for i := 0; i < cfg.BatchSize; i++ {
				k := mb*cfg.BatchSize + i
				var meta int32
				m.Transform(syn.Datum(k), datumBuf, &meta)
				sum += byteSum(datumBuf)
				n := copy(targetBuf, syn.Target(k))
				clear(targetBuf[n:])
				sum += byteSum(targetBuf)
			}
		}
	}
	syn.Reset()
	return sum
}

// multiPass runs the concurrent pipeline over the same stream.
func multiPass(t *testing.T, l *Loader, cfg *control.Config, epochs, batches int) uint64 {
	t.Helper()
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	data := make([]byte, cfg.BatchSize*cfg.DatumLen())
	targets := make([]byte, cfg.BatchSize*cfg.TargetLen())
	var sum uint64
	for e := 0; e < epochs; e++ {
		if err := l.Reset(); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		for mb := 0; mb < batches; mb++ {
			if err := l.NextInto(data, targets); err != nil {
				t.Fatalf("NextInto epoch %d batch %d: %v", e, mb, err)
			}
			sum += byteSum(data) + byteSum(targets)
		}
	}
	l.Stop()
	return sum
}

func TestMultiMatchesSingle(t *testing.T) {
	cfg := testConfig(16)
	syn := reader.NewSynthetic(cfg.BatchSize, cfg.DatumLen()/2, cfg.DatumLen(), cfg.TargetLen())
	const epochs, batches = 2, 20

	want := singlePass(cfg, syn, epochs, batches)
	l := newTestLoader(t, cfg, syn)
	got := multiPass(t, l, cfg, epochs, batches)
	if got != want {
		t.Fatalf("multi sum = %d, single sum = %d", got, want)
	}
}

func TestSingleItemBatch(t *testing.T) {
	cfg := testConfig(1)
	syn := reader.NewSynthetic(1, 8, 8, cfg.TargetLen())
	l := newTestLoader(t, cfg, syn)
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	tup, err := l.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	// B=1: the transpose is the identity, so the decoded datum leads
	// the plane unchanged.
	want := syn.Datum(0)
	got := tup.Data.Data()[:len(want)]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("datum byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestReaderFailureSurfacesAfterNineBatches(t *testing.T) {
	cfg := testConfig(4)
	syn := reader.NewSynthetic(4, 8, 16, cfg.TargetLen())
	syn.FailAfter = 10
	l := newTestLoader(t, cfg, syn)
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	delivered := 0
	for {
		_, err := l.Next()
		if err != nil {
			break
		}
		delivered++
		if delivered > 9 {
			t.Fatal("more batches than the reader produced")
		}
	}
	if delivered != 9 {
		t.Fatalf("delivered %d batches before failure, want 9", delivered)
	}
	// Stop completes despite the dead read stage.
	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop hung after reader failure")
	}
}

func TestSlowTrainerBackpressure(t *testing.T) {
	cfg := testConfig(4)
	syn := reader.NewSynthetic(4, 8, 16, cfg.TargetLen())
	l := newTestLoader(t, cfg, syn)
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	// Let the pipeline hit every bound: both pools full, reader parked.
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 10; i++ {
		tup, err := l.Next()
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		// FIFO survives the stall: item i*B leads the data plane
		// (transpose puts element 0 of every item first; row 0 is
		// item 0's first byte... element (0,0) is item 0).
		want := syn.Datum(i * cfg.BatchSize)[0]
		if got := tup.Data.Data()[0]; got != want {
			t.Fatalf("batch %d: first element %d, want %d", i, got, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestResetMidEpochIsIdempotent(t *testing.T) {
	cfg := testConfig(8)
	syn := reader.NewSynthetic(8, 8, 24, cfg.TargetLen())
	l := newTestLoader(t, cfg, syn)
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	data := make([]byte, cfg.BatchSize*cfg.DatumLen())
	targets := make([]byte, cfg.BatchSize*cfg.TargetLen())
	read := func(n int) uint64 {
		var sum uint64
		for i := 0; i < n; i++ {
			if err := l.NextInto(data, targets); err != nil {
				t.Fatalf("NextInto: %v", err)
			}
			sum += byteSum(data) + byteSum(targets)
		}
		return sum
	}

	first := read(10)
	if err := l.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	read(3) // abandon mid-epoch
	if err := l.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	again := read(10)
	if first != again {
		t.Fatalf("post-reset sum %d != initial sum %d", again, first)
	}
}

func TestDeviceSlotAlternates(t *testing.T) {
	cfg := testConfig(2)
	syn := reader.NewSynthetic(2, 4, 8, cfg.TargetLen())
	l := newTestLoader(t, cfg, syn)
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	prev := -1
	for i := 0; i < 8; i++ {
		tup, err := l.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if tup.DeviceSlot == prev {
			t.Fatalf("batch %d: device slot %d repeated", i, tup.DeviceSlot)
		}
		if tup.DeviceSlot != i%api.DeviceSlots {
			t.Fatalf("batch %d: device slot %d, want %d", i, tup.DeviceSlot, i%api.DeviceSlots)
		}
		prev = tup.DeviceSlot
	}
}

func TestRepeatedStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("lifecycle stress")
	}
	cfg := testConfig(4)
	syn := reader.NewSynthetic(4, 8, 16, cfg.TargetLen())
	l := newTestLoader(t, cfg, syn)

	before := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		if err := l.Start(); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		if _, err := l.Next(); err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		l.Stop()
	}
	// Give exited goroutines a moment to unwind.
	time.Sleep(100 * time.Millisecond)
	after := runtime.NumGoroutine()
	if after > before+2 {
		t.Fatalf("goroutines leaked: %d -> %d", before, after)
	}
}

func TestNextBeforeStart(t *testing.T) {
	cfg := testConfig(2)
	syn := reader.NewSynthetic(2, 4, 8, cfg.TargetLen())
	l := newTestLoader(t, cfg, syn)
	if _, err := l.Next(); err != api.ErrNotStarted {
		t.Fatalf("Next before Start = %v, want ErrNotStarted", err)
	}
}

func TestFromConfigWiring(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.BatchSize = 4
	cfg.DatumSize = 16
	l, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := l.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := l.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

package pool

import (
	"sync"
	"testing"
)

func fillOne(p *TuplePool, tag byte) {
	p.Lock()
	if p.WaitNonFull(nil) != Ready {
		p.Unlock()
		panic("pool closed during fill")
	}
	tup := p.GetForWrite()
	tup.Data.Reset()
	tup.Data.AppendItem([]byte{tag})
	p.AdvanceWritePos()
	p.Unlock()
	p.SignalNonEmpty()
}

func takeOne(p *TuplePool) (byte, WaitResult) {
	p.Lock()
	res := p.WaitNonEmpty(nil)
	if res != Ready {
		p.Unlock()
		return 0, res
	}
	tag := p.GetForRead().Data.Item(0)[0]
	p.AdvanceReadPos()
	p.Unlock()
	p.SignalNonFull()
	return tag, Ready
}

func TestTuplePoolFIFO(t *testing.T) {
	p := NewTuplePool(2, 16, 16, 4, false)
	fillOne(p, 1)
	fillOne(p, 2)
	p.Lock()
	if !p.Full() {
		t.Fatal("pool should be full after two writes")
	}
	p.Unlock()
	for want := byte(1); want <= 2; want++ {
		got, res := takeOne(p)
		if res != Ready || got != want {
			t.Fatalf("dequeue = (%d,%v), want (%d,Ready)", got, res, want)
		}
	}
	if p.Len() != 0 {
		t.Fatalf("len = %d after drain", p.Len())
	}
}

func TestTuplePoolCloseDrains(t *testing.T) {
	p := NewTuplePool(2, 16, 16, 4, false)
	fillOne(p, 7)
	p.Close()

	// Buffered tuple is still readable after close.
	got, res := takeOne(p)
	if res != Ready || got != 7 {
		t.Fatalf("post-close dequeue = (%d,%v), want (7,Ready)", got, res)
	}
	// Then the closed state is reported.
	if _, res := takeOne(p); res != Closed {
		t.Fatalf("empty closed pool wait = %v, want Closed", res)
	}
	// Writes are refused immediately.
	p.Lock()
	if r := p.WaitNonFull(nil); r != Closed {
		t.Fatalf("write wait on closed pool = %v, want Closed", r)
	}
	p.Unlock()
}

func TestTuplePoolAbortPredicate(t *testing.T) {
	p := NewTuplePool(1, 16, 16, 4, false)
	stop := false
	done := make(chan WaitResult, 1)
	go func() {
		p.Lock()
		res := p.WaitNonEmpty(func() bool { return stop })
		p.Unlock()
		done <- res
	}()
	p.Lock()
	stop = true
	p.Unlock()
	p.WakeAll()
	if res := <-done; res != Aborted {
		t.Fatalf("wait result = %v, want Aborted", res)
	}
}

func TestTuplePoolConcurrentStress(t *testing.T) {
	const rounds = 10000
	p := NewTuplePool(1, 8, 8, 4, false)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			fillOne(p, byte(i))
		}
	}()
	for i := 0; i < rounds; i++ {
		got, res := takeOne(p)
		if res != Ready {
			t.Fatalf("round %d: result %v", i, res)
		}
		if got != byte(i) {
			t.Fatalf("round %d: tag %d, want %d (FIFO broken)", i, got, byte(i))
		}
	}
	wg.Wait()
}

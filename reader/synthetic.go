// File: reader/synthetic.go
// Package reader implements the upstream producers that fill read-pool
// slots with encoded minibatches.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reader

import (
	"fmt"

	"github.com/nomi-wei/neon/pool"
)

// SyntheticReader emits a deterministic, endless stream of
// variable-length items. Item contents depend only on the global item
// index, so any two runs (or a single-threaded re-decode) produce
// byte-identical streams. Used for pipeline validation and throughput
// measurements without touching storage.
type SyntheticReader struct {
	batchSize int
	datumMin  int
	datumMax  int
	targetLen int

	// Encode, when set, post-processes every generated item (e.g.
	// zstd-compress it) so the stream exercises a decoding media
	// transformer.
	Encode func([]byte) []byte

	// FailAfter makes the Nth Read call fail; 0 disables.
	FailAfter int

	next  int
	reads int
}

// NewSynthetic builds a reader producing batchSize items per call with
// encoded datum lengths cycling through [datumMin, datumMax] and
// fixed-length targets.
func NewSynthetic(batchSize, datumMin, datumMax, targetLen int) *SyntheticReader {
	if datumMax < datumMin {
		datumMax = datumMin
	}
	return &SyntheticReader{
		batchSize: batchSize,
		datumMin:  datumMin,
		datumMax:  datumMax,
		targetLen: targetLen,
	}
}

// ItemLen returns the encoded datum length of global item k.
func (r *SyntheticReader) ItemLen(k int) int {
	return r.datumMin + k%(r.datumMax-r.datumMin+1)
}

// Datum generates the encoded datum of global item k into a fresh
// slice.
func (r *SyntheticReader) Datum(k int) []byte {
	b := make([]byte, r.ItemLen(k))
	for j := range b {
		b[j] = byte(k*131 + j*31 + 7)
	}
	if r.Encode != nil {
		b = r.Encode(b)
	}
	return b
}

// Target generates the encoded target of global item k.
func (r *SyntheticReader) Target(k int) []byte {
	b := make([]byte, r.targetLen)
	for j := range b {
		b[j] = byte(k*17 + j)
	}
	return b
}

func (r *SyntheticReader) Read(tuple *pool.BufferTuple) error {
	r.reads++
	if r.FailAfter > 0 && r.reads >= r.FailAfter {
		return fmt.Errorf("synthetic: injected failure on read %d", r.reads)
	}
	tuple.Data.Reset()
	tuple.Targets.Reset()
	tuple.Meta.Reset()
	for i := 0; i < r.batchSize; i++ {
		k := r.next + i
		tuple.Data.AppendItem(r.Datum(k))
		tuple.Targets.AppendItem(r.Target(k))
	}
	r.next += r.batchSize
	return nil
}

func (r *SyntheticReader) Reset() {
	r.next = 0
	r.reads = 0
}

// File: reader/batchfile.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BatchFileReader streams encoded records from a checksummed record
// file. Records are staged through a read-ahead FIFO so one Read call
// amortizes file traversal over many minibatches. The stream is
// endless: reaching the end of the record set wraps to the next epoch
// (reshuffling if configured) until Reset.

package reader

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/eapache/queue"

	"github.com/nomi-wei/neon/api"
	"github.com/nomi-wei/neon/control"
	"github.com/nomi-wei/neon/pool"
)

// Batch file layout, little endian:
//
//	magic   [8]byte  "NEONBAT1"
//	count   uint32
//	records:
//	  datumLen  uint32
//	  targetLen uint32
//	  datum     [datumLen]byte
//	  target    [targetLen]byte
//	  checksum  uint64  xxhash64(datum || target)
var batchFileMagic = [8]byte{'N', 'E', 'O', 'N', 'B', 'A', 'T', '1'}

const (
	recordHeaderLen   = 8
	recordChecksumLen = 8
	defaultSeed       = 42
)

type record struct {
	datum  []byte
	target []byte
}

// BatchFileReader reads records by precomputed offset, verifying the
// per-record xxhash64 checksum on ingest.
type BatchFileReader struct {
	cfg       control.ReaderConfig
	batchSize int

	file    *os.File
	offsets []int64 // record offsets after subset/start trimming
	order   []int   // iteration order over offsets
	cursor  int     // next position in order
	rng     *rand.Rand

	ahead *queue.Queue // staged *record, popped batchSize at a time
}

// NewBatchFile opens the record file, indexes it, and applies the
// start/subset/shuffle knobs from cfg.
func NewBatchFile(cfg control.ReaderConfig, batchSize int) (*BatchFileReader, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("batchfile: %w", err)
	}
	r := &BatchFileReader{
		cfg:       cfg,
		batchSize: batchSize,
		file:      f,
		ahead:     queue.New(),
	}
	if err := r.index(); err != nil {
		f.Close()
		return nil, err
	}
	r.rewind()
	return r, nil
}

// index scans the file once and records the offset of every record the
// configuration keeps.
func (r *BatchFileReader) index() error {
	var header [12]byte
	if _, err := r.file.ReadAt(header[:], 0); err != nil {
		return fmt.Errorf("batchfile: header: %w", err)
	}
	if [8]byte(header[:8]) != batchFileMagic {
		return fmt.Errorf("batchfile: bad magic %q", header[:8])
	}
	count := int(binary.LittleEndian.Uint32(header[8:]))

	offsets := make([]int64, 0, count)
	off := int64(len(header))
	var lens [recordHeaderLen]byte
	for i := 0; i < count; i++ {
		if _, err := r.file.ReadAt(lens[:], off); err != nil {
			return fmt.Errorf("batchfile: record %d: %w", i, api.ErrShortRecord)
		}
		offsets = append(offsets, off)
		datumLen := int64(binary.LittleEndian.Uint32(lens[:4]))
		targetLen := int64(binary.LittleEndian.Uint32(lens[4:]))
		off += recordHeaderLen + datumLen + targetLen + recordChecksumLen
	}

	if s := r.cfg.StartFileIdx; s > 0 {
		if s >= len(offsets) {
			return fmt.Errorf("batchfile: start index %d beyond %d records", s, len(offsets))
		}
		offsets = offsets[s:]
	}
	if p := r.cfg.SubsetPercent; p > 0 && p < 100 {
		keep := len(offsets) * p / 100
		if keep < 1 {
			keep = 1
		}
		offsets = offsets[:keep]
	}
	if len(offsets) == 0 {
		return fmt.Errorf("batchfile: no records selected")
	}
	r.offsets = offsets
	return nil
}

// rewind restores the epoch-zero iteration state. Deterministic: the
// same seed reproduces the same order, including the initial shuffle.
func (r *BatchFileReader) rewind() {
	seed := r.cfg.Seed
	if seed == 0 {
		seed = defaultSeed
	}
	r.rng = rand.New(rand.NewSource(seed))
	r.order = make([]int, len(r.offsets))
	for i := range r.order {
		r.order[i] = i
	}
	if r.cfg.Shuffle {
		r.rng.Shuffle(len(r.order), func(i, j int) {
			r.order[i], r.order[j] = r.order[j], r.order[i]
		})
	}
	r.cursor = 0
	for r.ahead.Length() > 0 {
		r.ahead.Remove()
	}
}

// load reads and verifies the record at offset off.
func (r *BatchFileReader) load(off int64) (*record, error) {
	var lens [recordHeaderLen]byte
	if _, err := r.file.ReadAt(lens[:], off); err != nil {
		return nil, api.ErrShortRecord
	}
	datumLen := int(binary.LittleEndian.Uint32(lens[:4]))
	targetLen := int(binary.LittleEndian.Uint32(lens[4:]))
	payload := make([]byte, datumLen+targetLen+recordChecksumLen)
	if _, err := r.file.ReadAt(payload, off+recordHeaderLen); err != nil {
		return nil, api.ErrShortRecord
	}
	body := payload[:datumLen+targetLen]
	want := binary.LittleEndian.Uint64(payload[datumLen+targetLen:])
	if xxhash.Sum64(body) != want {
		return nil, api.ErrBadChecksum
	}
	return &record{datum: body[:datumLen], target: body[datumLen:]}, nil
}

// fill stages one read-ahead window of records, wrapping the epoch when
// the order is exhausted.
func (r *BatchFileReader) fill() error {
	window := 4 * r.batchSize
	for i := 0; i < window; i++ {
		if r.cursor == len(r.order) {
			r.cursor = 0
			if r.cfg.Reshuffle {
				r.rng.Shuffle(len(r.order), func(i, j int) {
					r.order[i], r.order[j] = r.order[j], r.order[i]
				})
			}
		}
		rec, err := r.load(r.offsets[r.order[r.cursor]])
		if err != nil {
			return err
		}
		r.ahead.Add(rec)
		r.cursor++
	}
	return nil
}

func (r *BatchFileReader) Read(tuple *pool.BufferTuple) error {
	tuple.Data.Reset()
	tuple.Targets.Reset()
	tuple.Meta.Reset()
	for i := 0; i < r.batchSize; i++ {
		if r.ahead.Length() == 0 {
			if err := r.fill(); err != nil {
				return err
			}
		}
		rec := r.ahead.Remove().(*record)
		tuple.Data.AppendItem(rec.datum)
		tuple.Targets.AppendItem(rec.target)
	}
	return nil
}

func (r *BatchFileReader) Reset() { r.rewind() }

// Records returns the number of records selected by the configuration.
func (r *BatchFileReader) Records() int { return len(r.offsets) }

// Close releases the underlying file.
func (r *BatchFileReader) Close() error { return r.file.Close() }

// Record is one datum/target pair for WriteBatchFile.
type Record struct {
	Datum  []byte
	Target []byte
}

// WriteBatchFile writes records in the batch file layout. Fixture
// tooling for tests and benchmarks; production ingest lives outside
// this module.
func WriteBatchFile(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("batchfile: %w", err)
	}
	defer f.Close()

	var header [12]byte
	copy(header[:8], batchFileMagic[:])
	binary.LittleEndian.PutUint32(header[8:], uint32(len(records)))
	if _, err := f.Write(header[:]); err != nil {
		return err
	}
	var lens [recordHeaderLen]byte
	var sum [recordChecksumLen]byte
	for _, rec := range records {
		binary.LittleEndian.PutUint32(lens[:4], uint32(len(rec.Datum)))
		binary.LittleEndian.PutUint32(lens[4:], uint32(len(rec.Target)))
		if _, err := f.Write(lens[:]); err != nil {
			return err
		}
		if _, err := f.Write(rec.Datum); err != nil {
			return err
		}
		if _, err := f.Write(rec.Target); err != nil {
			return err
		}
		h := xxhash.New()
		h.Write(rec.Datum)
		h.Write(rec.Target)
		binary.LittleEndian.PutUint64(sum[:], h.Sum64())
		if _, err := f.Write(sum[:]); err != nil {
			return err
		}
	}
	return nil
}

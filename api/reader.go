// File: api/reader.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reader contract: the single upstream producer of encoded minibatches.

package api

import "github.com/nomi-wei/neon/pool"

// Reader fills one BufferTuple with one encoded minibatch per call.
//
// Read writes up to batchSize encoded items into tuple.Data, the
// corresponding encoded targets into tuple.Targets and, optionally,
// per-item metadata into tuple.Meta. The reader resets the item buffers
// before filling them; capacity is reused across calls. A non-nil error
// is unrecoverable and shuts the pipeline down.
//
// Readers are driven by exactly one read-stage goroutine; they do not
// need to be safe for concurrent use.
type Reader interface {
	Read(tuple *pool.BufferTuple) error

	// Reset rewinds to the first item of the first epoch. Buffers are
	// untouched. Only called while the pipeline is stopped.
	Reset()
}

// TargetConversion selects how encoded targets become decoded targets.
// Only ConvertReadContents changes the pipeline's decode path; the other
// codes are interpreted by the Reader during ingest.
type TargetConversion int

const (
	ConvertNone TargetConversion = iota
	ConvertASCIIToBinary
	ConvertCharToIndex
	// ConvertReadContents routes each item through the media
	// transformer's joint entry point, decoding datum and target with
	// coupled randomization.
	ConvertReadContents
)

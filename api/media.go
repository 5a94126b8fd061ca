// File: api/media.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Media transformer contract: decodes one encoded item into a fixed
// stride. Implementations live in the media package.

package api

// Media decodes encoded items. One instance is owned by each decode
// worker; instances are never shared between goroutines, so
// implementations may keep scratch state without locking.
type Media interface {
	// Transform decodes a single encoded datum into out, which is
	// exactly one decoded stride long. Output shorter than the stride
	// is zero-padded. One scalar describing the decode (typically the
	// pre-pad decoded length) is stored through meta.
	Transform(enc []byte, out []byte, meta *int32) error

	// TransformJoint decodes datum and target together so that any
	// randomized geometry (crops, flips) stays coupled between the two.
	TransformJoint(encDatum, encTarget, outDatum, outTarget []byte) error
}

// MediaFactory builds the per-worker Media instance for the given
// worker id. Called once per worker at pipeline start.
type MediaFactory func(workerID int) (Media, error)

// File: media/raw.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw transformer: items are already decoded bytes. Fits them into the
// stride and reports the encoded length as the metadata scalar.

package media

import "github.com/nomi-wei/neon/api"

// RawMedia passes item bytes through unchanged.
type RawMedia struct{}

var _ api.Media = (*RawMedia)(nil)

func NewRaw() *RawMedia { return &RawMedia{} }

func (m *RawMedia) Transform(enc []byte, out []byte, meta *int32) error {
	n := fit(out, enc)
	if meta != nil {
		*meta = int32(n)
	}
	return nil
}

func (m *RawMedia) TransformJoint(encDatum, encTarget, outDatum, outTarget []byte) error {
	fit(outDatum, encDatum)
	fit(outTarget, encTarget)
	return nil
}

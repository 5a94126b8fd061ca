// File: media/zstd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Zstandard transformer. Each worker owns one decoder and a reused
// scratch slice, so steady-state decoding allocates nothing.

package media

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/nomi-wei/neon/api"
)

// ZstdMedia decodes zstd-framed items into the fixed stride.
type ZstdMedia struct {
	dec     *zstd.Decoder
	scratch []byte
}

var _ api.Media = (*ZstdMedia)(nil)

// NewZstd builds a stateless-mode decoder (DecodeAll only, no
// goroutines).
func NewZstd() (*ZstdMedia, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("media: zstd decoder: %w", err)
	}
	return &ZstdMedia{dec: dec}, nil
}

func (m *ZstdMedia) decode(enc []byte) ([]byte, error) {
	out, err := m.dec.DecodeAll(enc, m.scratch[:0])
	if err != nil {
		return nil, fmt.Errorf("media: zstd decode: %w", err)
	}
	m.scratch = out
	return out, nil
}

func (m *ZstdMedia) Transform(enc []byte, out []byte, meta *int32) error {
	decoded, err := m.decode(enc)
	if err != nil {
		return err
	}
	n := fit(out, decoded)
	if meta != nil {
		*meta = int32(n)
	}
	return nil
}

func (m *ZstdMedia) TransformJoint(encDatum, encTarget, outDatum, outTarget []byte) error {
	decoded, err := m.decode(encDatum)
	if err != nil {
		return err
	}
	fit(outDatum, decoded)
	decoded, err = m.decode(encTarget)
	if err != nil {
		return err
	}
	fit(outTarget, decoded)
	return nil
}

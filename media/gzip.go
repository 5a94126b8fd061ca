// File: media/gzip.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Gzip transformer built on klauspost/compress, which is
// format-compatible with stdlib gzip but considerably faster on the
// decode hot path.

package media

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/nomi-wei/neon/api"
)

// GzipMedia decodes gzip-framed items into the fixed stride. The
// reader and scratch buffer are reused across items.
type GzipMedia struct {
	src     bytes.Reader
	gz      gzip.Reader
	scratch bytes.Buffer
}

var _ api.Media = (*GzipMedia)(nil)

func NewGzip() *GzipMedia { return &GzipMedia{} }

func (m *GzipMedia) decode(enc []byte) ([]byte, error) {
	m.src.Reset(enc)
	if err := m.gz.Reset(&m.src); err != nil {
		return nil, fmt.Errorf("media: gzip header: %w", err)
	}
	m.scratch.Reset()
	if _, err := io.Copy(&m.scratch, &m.gz); err != nil {
		return nil, fmt.Errorf("media: gzip decode: %w", err)
	}
	return m.scratch.Bytes(), nil
}

func (m *GzipMedia) Transform(enc []byte, out []byte, meta *int32) error {
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

func (m *GzipMedia) TransformJoint(encDatum, encTarget, outDatum, outTarget []byte) error {
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

// File: media/media.go
// Package media implements the per-worker transformers that decode one
// encoded item into a fixed stride.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package media

import (
	"fmt"

	"github.com/nomi-wei/neon/api"
	"github.com/nomi-wei/neon/control"
)

// Factory returns the per-worker media constructor for the configured
// codec. The decode pool calls the returned MediaFactory once per
// worker, so every worker owns an independent instance with its own
// scratch state.
func Factory(cfg control.MediaConfig) (api.MediaFactory, error) {
	switch cfg.Codec {
	case "", "raw":
		return func(int) (api.Media, error) { return NewRaw(), nil }, nil
	case "zstd":
		return func(int) (api.Media, error) { return NewZstd() }, nil
	case "gzip":
		return func(int) (api.Media, error) { return NewGzip(), nil }, nil
	default:
		return nil, fmt.Errorf("media: unknown codec %q", cfg.Codec)
	}
}

// fit copies decoded into out, truncating to the stride and zero
// padding the remainder, and returns the pre-pad length.
func fit(out, decoded []byte) int {
	n := copy(out, decoded)
	clear(out[n:])
	return len(decoded)
}

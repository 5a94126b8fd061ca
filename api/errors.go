// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error values shared across the loader packages.

package api

import "fmt"

var (
	ErrNotStarted   = fmt.Errorf("loader is not started")
	ErrStopped      = fmt.Errorf("pipeline is stopped")
	ErrPoolClosed   = fmt.Errorf("buffer pool is closed")
	ErrSlotRange    = fmt.Errorf("device slot out of range")
	ErrBadChecksum  = fmt.Errorf("record checksum mismatch")
	ErrShortRecord  = fmt.Errorf("truncated record")
	ErrNotSupported = fmt.Errorf("operation not supported")
)

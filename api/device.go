// File: api/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Device contract: opaque target memory holding two minibatch slots so
// that transfer into slot k overlaps compute on slot 1-k.

package api

import "github.com/nomi-wei/neon/pool"

// DeviceType identifies the device backend. Decode buffers are pinned
// for DMA whenever the type is not CPU.
type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

// DeviceSlots is the number of resident minibatch slots per device.
// The decode manager ping-pongs between them.
const DeviceSlots = 2

// Device is the copy-in/copy-out contract for target memory. Copy-in is
// called only by the decode manager; copy-out only by test harnesses.
// The two never overlap on the same slot because the consumer releases
// a slot before the manager can target it again.
type Device interface {
	// Init performs device-side initialization. A non-nil error is
	// fatal: the decode manager never processes a minibatch.
	Init() error

	Type() DeviceType

	// Host to device, slot in [0, DeviceSlots).
	CopyData(slot int, src *pool.Buffer[byte]) error
	CopyLabels(slot int, src *pool.Buffer[byte]) error
	CopyMeta(slot int, src *pool.Buffer[int32]) error

	// Device to host. dst is resized to the slot's plane length.
	CopyDataBack(slot int, dst *pool.Buffer[byte]) error
	CopyLabelsBack(slot int, dst *pool.Buffer[byte]) error

	// Close releases device resources. Init after Close is undefined.
	Close() error
}

// File: device/cpu.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CPU reference device: two host-memory slots per plane. Useful for
// CPU training and as the behavioral model for the GPU backend.

package device

import (
	"github.com/nomi-wei/neon/api"
	"github.com/nomi-wei/neon/pool"
)

type cpuSlot struct {
	data    []byte
	targets []byte
	meta    []int32
}

// CPUDevice keeps both minibatch slots in ordinary host memory.
type CPUDevice struct {
	slots [api.DeviceSlots]cpuSlot
}

var _ api.Device = (*CPUDevice)(nil)

// NewCPU allocates both slots eagerly; Init is a no-op.
func NewCPU(dataLen, targetLen, metaLen int) *CPUDevice {
	d := &CPUDevice{}
	for i := range d.slots {
		d.slots[i] = cpuSlot{
			data:    make([]byte, dataLen),
			targets: make([]byte, targetLen),
			meta:    make([]int32, metaLen),
		}
	}
	return d
}

func (d *CPUDevice) Init() error          { return nil }
func (d *CPUDevice) Type() api.DeviceType { return api.CPU }
func (d *CPUDevice) Close() error         { return nil }

func (d *CPUDevice) CopyData(slot int, src *pool.Buffer[byte]) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	copy(d.slots[slot].data, src.Data())
	return nil
}

func (d *CPUDevice) CopyLabels(slot int, src *pool.Buffer[byte]) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	copy(d.slots[slot].targets, src.Data())
	return nil
}

func (d *CPUDevice) CopyMeta(slot int, src *pool.Buffer[int32]) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	copy(d.slots[slot].meta, src.Data())
	return nil
}

func (d *CPUDevice) CopyDataBack(slot int, dst *pool.Buffer[byte]) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	dst.Resize(len(d.slots[slot].data))
	copy(dst.Data(), d.slots[slot].data)
	return nil
}

func (d *CPUDevice) CopyLabelsBack(slot int, dst *pool.Buffer[byte]) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	dst.Resize(len(d.slots[slot].targets))
	copy(dst.Data(), d.slots[slot].targets)
	return nil
}

// File: device/gpu.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebGPU device backend. Each slot holds three storage buffers (data,
// targets, meta). Copy-in goes through Queue.WriteBuffer; copy-out
// stages through a MapRead buffer, the portable wgpu readback path.

package device

import (
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/nomi-wei/neon/api"
	"github.com/nomi-wei/neon/pool"
)

type gpuSlot struct {
	data    *wgpu.Buffer
	targets *wgpu.Buffer
	meta    *wgpu.Buffer
}

// GPUDevice owns one wgpu instance/adapter/device and two resident
// minibatch slots. All methods are called from the decode manager
// except the copy-back pair, which test harnesses call between
// minibatches; the two never race on a slot.
type GPUDevice struct {
	dataLen   int
	targetLen int
	metaLen   int // int32 count

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	slots    [api.DeviceSlots]gpuSlot
}

var _ api.Device = (*GPUDevice)(nil)

// NewGPU records the plane geometry; all wgpu work happens in Init so
// that construction on a GPU-less host stays cheap and error-free.
func NewGPU(dataLen, targetLen, metaLen int) *GPUDevice {
	return &GPUDevice{dataLen: dataLen, targetLen: targetLen, metaLen: metaLen}
}

func (d *GPUDevice) Type() api.DeviceType { return api.GPU }

// Init bootstraps instance, adapter, device and queue, then allocates
// both slots. Idempotent: a second call on a live device is a no-op.
func (d *GPUDevice) Init() error {
	if d.device != nil {
		return nil
	}
	d.instance = wgpu.CreateInstance(nil)
	if d.instance == nil {
		return fmt.Errorf("gpu: create instance failed")
	}
	adapter, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil || adapter == nil {
		// Integrated or software adapters are still usable.
		adapter, err = d.instance.RequestAdapter(nil)
	}
	if err != nil || adapter == nil {
		d.releaseContext()
		return fmt.Errorf("gpu: request adapter failed: %v", err)
	}
	d.adapter = adapter
	d.device, err = adapter.RequestDevice(nil)
	if err != nil || d.device == nil {
		d.releaseContext()
		return fmt.Errorf("gpu: request device failed: %v", err)
	}
	d.queue = d.device.GetQueue()

	for i := range d.slots {
		if d.slots[i], err = d.makeSlot(i); err != nil {
			d.releaseSlots()
			d.releaseContext()
			return err
		}
	}
	return nil
}

func (d *GPUDevice) makeSlot(i int) (gpuSlot, error) {
	usage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	var s gpuSlot
	var err error
	if s.data, err = d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: fmt.Sprintf("minibatch-data-%d", i),
		Size:  uint64(d.dataLen),
		Usage: usage,
	}); err != nil {
		return s, fmt.Errorf("gpu: create data buffer: %w", err)
	}
	if s.targets, err = d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: fmt.Sprintf("minibatch-targets-%d", i),
		Size:  uint64(d.targetLen),
		Usage: usage,
	}); err != nil {
		return s, fmt.Errorf("gpu: create target buffer: %w", err)
	}
	if s.meta, err = d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: fmt.Sprintf("minibatch-meta-%d", i),
		Size:  uint64(d.metaLen * 4),
		Usage: usage,
	}); err != nil {
		return s, fmt.Errorf("gpu: create meta buffer: %w", err)
	}
	return s, nil
}

func (d *GPUDevice) CopyData(slot int, src *pool.Buffer[byte]) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	d.queue.WriteBuffer(d.slots[slot].data, 0, src.Data())
	return nil
}

func (d *GPUDevice) CopyLabels(slot int, src *pool.Buffer[byte]) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	d.queue.WriteBuffer(d.slots[slot].targets, 0, src.Data())
	return nil
}

func (d *GPUDevice) CopyMeta(slot int, src *pool.Buffer[int32]) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	d.queue.WriteBuffer(d.slots[slot].meta, 0, wgpu.ToBytes(src.Data()))
	return nil
}

func (d *GPUDevice) CopyDataBack(slot int, dst *pool.Buffer[byte]) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	dst.Resize(d.dataLen)
	return d.readBuffer(d.slots[slot].data, dst.Data())
}

func (d *GPUDevice) CopyLabelsBack(slot int, dst *pool.Buffer[byte]) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	dst.Resize(d.targetLen)
	return d.readBuffer(d.slots[slot].targets, dst.Data())
}

// readBuffer copies a device buffer into out via a transient staging
// buffer.
func (d *GPUDevice) readBuffer(src *wgpu.Buffer, out []byte) error {
	size := uint64(len(out))
	staging, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "readback-staging",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create staging buffer: %w", err)
	}
	defer staging.Destroy()

	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("gpu: create command encoder: %w", err)
	}
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("gpu: finish command encoder: %w", err)
	}
	d.queue.Submit(cmd)

	done := make(chan struct{})
	var mapErr error
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("gpu: map status %d", status)
		}
		close(done)
	})
	timeout := time.After(2 * time.Second)
poll:
	for {
		d.device.Poll(false, nil)
		select {
		case <-done:
			break poll
		case <-timeout:
			return fmt.Errorf("gpu: readback map timeout")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return mapErr
	}
	mapped := staging.GetMappedRange(0, uint(size))
	defer staging.Unmap()
	if mapped == nil {
		return fmt.Errorf("gpu: mapped range nil")
	}
	copy(out, mapped)
	return nil
}

// Close waits for outstanding work and releases every wgpu handle.
func (d *GPUDevice) Close() error {
	if d.device != nil {
		d.device.Poll(true, nil)
	}
	d.releaseSlots()
	d.releaseContext()
	return nil
}

func (d *GPUDevice) releaseSlots() {
	for i := range d.slots {
		for _, b := range []*wgpu.Buffer{d.slots[i].data, d.slots[i].targets, d.slots[i].meta} {
			if b != nil {
				b.Destroy()
			}
		}
		d.slots[i] = gpuSlot{}
	}
}

func (d *GPUDevice) releaseContext() {
	if d.device != nil {
		d.device.Release()
		d.device = nil
		d.queue = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}

// File: device/device.go
// Package device implements the target-memory backends the decode
// manager copies minibatches into.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package device

import (
	"fmt"

	"github.com/nomi-wei/neon/api"
	"github.com/nomi-wei/neon/control"
)

// New constructs the device selected by cfg. Plane lengths are the
// decoded minibatch strides in bytes (data, targets) and int32 count
// (meta).
func New(cfg *control.Config) (api.Device, error) {
	dataLen := cfg.BatchSize * cfg.DatumLen()
	targetLen := cfg.BatchSize * cfg.TargetLen()
	metaLen := 2 * cfg.BatchSize
	switch cfg.Device.Type {
	case "", "cpu":
		return NewCPU(dataLen, targetLen, metaLen), nil
	case "gpu":
		return NewGPU(dataLen, targetLen, metaLen), nil
	default:
		return nil, fmt.Errorf("device: unknown type %q", cfg.Device.Type)
	}
}

func checkSlot(slot int) error {
	if slot < 0 || slot >= api.DeviceSlots {
		return api.ErrSlotRange
	}
	return nil
}

package device

import (
	"bytes"
	"testing"

	"github.com/nomi-wei/neon/api"
	"github.com/nomi-wei/neon/control"
	"github.com/nomi-wei/neon/pool"
)

func byteBuf(b []byte) *pool.Buffer[byte] {
	buf := pool.NewBuffer[byte](len(b), false)
	buf.Resize(len(b))
	copy(buf.Data(), b)
	return buf
}

func TestCPUSlotIsolation(t *testing.T) {
	d := NewCPU(4, 2, 2)
	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if d.Type() != api.CPU {
		t.Fatal("wrong device type")
	}

	d.CopyData(0, byteBuf([]byte{1, 1, 1, 1}))
	d.CopyData(1, byteBuf([]byte{2, 2, 2, 2}))
	d.CopyLabels(0, byteBuf([]byte{10, 10}))
	d.CopyLabels(1, byteBuf([]byte{20, 20}))

	out := pool.NewBuffer[byte](4, false)
	if err := d.CopyDataBack(0, out); err != nil {
		t.Fatalf("CopyDataBack: %v", err)
	}
	if !bytes.Equal(out.Data(), []byte{1, 1, 1, 1}) {
		t.Errorf("slot 0 data = %v", out.Data())
	}
	if err := d.CopyDataBack(1, out); err != nil {
		t.Fatalf("CopyDataBack: %v", err)
	}
	if !bytes.Equal(out.Data(), []byte{2, 2, 2, 2}) {
		t.Errorf("slot 1 data = %v", out.Data())
	}
	if err := d.CopyLabelsBack(0, out); err != nil {
		t.Fatalf("CopyLabelsBack: %v", err)
	}
	if !bytes.Equal(out.Data(), []byte{10, 10}) {
		t.Errorf("slot 0 labels = %v", out.Data())
	}
}

func TestCPUMetaCopy(t *testing.T) {
	d := NewCPU(2, 2, 4)
	meta := pool.NewBuffer[int32](4, false)
	meta.Resize(4)
	copy(meta.Data(), []int32{5, 6, 7, 8})
	if err := d.CopyMeta(1, meta); err != nil {
		t.Fatalf("CopyMeta: %v", err)
	}
	if d.slots[1].meta[2] != 7 {
		t.Errorf("meta not copied: %v", d.slots[1].meta)
	}
}

func TestSlotRangeChecked(t *testing.T) {
	d := NewCPU(2, 2, 2)
	if err := d.CopyData(2, byteBuf([]byte{0, 0})); err != api.ErrSlotRange {
		t.Fatalf("slot 2 = %v, want ErrSlotRange", err)
	}
	if err := d.CopyDataBack(-1, pool.NewBuffer[byte](2, false)); err != api.ErrSlotRange {
		t.Fatalf("slot -1 = %v, want ErrSlotRange", err)
	}
}

func TestFactorySelectsBackend(t *testing.T) {
	cfg := control.DefaultConfig()
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.Type() != api.CPU {
		t.Fatal("default should be CPU")
	}
	cfg.Device.Type = "gpu"
	d, err = New(cfg)
	if err != nil {
		t.Fatalf("New gpu: %v", err)
	}
	if d.Type() != api.GPU {
		t.Fatal("gpu type not selected")
	}
	cfg.Device.Type = "tpu"
	if _, err := New(cfg); err == nil {
		t.Fatal("unknown device accepted")
	}
}

package fl2k

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
)

func TestInitDeviceSequence(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)
	if err := d.initDevice(); err != nil {
		t.Fatal(err)
	}
	if len(tr.writes) != 14 {
		t.Fatalf("init performed %d register writes, want 14", len(tr.writes))
	}
	first := tr.writes[0]
	if first.reg != regI2CCtrl || first.val != 0xdf0000cc {
		t.Errorf("first write 0x%04x=0x%08x, want 0x8020=0xdf0000cc",
			first.reg, first.val)
	}
	last := tr.writes[len(tr.writes)-1]
	if last.reg != regVideoCtrl || last.val != 0x00000002 {
		t.Errorf("last write 0x%04x=0x%08x, want 0x8004=0x00000002",
			last.reg, last.val)
	}
	if tr.writes[1].reg != regPLLCtrl || tr.writes[1].val != 0x00416f3f {
		t.Error("PLL not parked at the lowest clock during init")
	}
}

func TestLoadCustomPalette(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)
	var pal [PaletteSize]uint32
	for i := range pal {
		pal[i] = uint32(255-i)<<16 | uint32(i)<<8 | uint32(i^0xa5)
	}
	if err := d.LoadCustomPalette(&pal); err != nil {
		t.Fatal(err)
	}
	for i := range pal {
		if tr.palette[i] != pal[i] {
			t.Fatalf("palette RAM entry %d = 0x%06x, want 0x%06x",
				i, tr.palette[i], pal[i])
		}
	}
	// entry value goes in bits 8-31 of the register write, the RAM
	// address in the low byte
	if got := tr.writes[200].val; got != pal[200]<<8|200 {
		t.Errorf("palette write for entry 200 = 0x%08x, want 0x%08x",
			got, pal[200]<<8|200)
	}
	if err := d.LoadCustomPalette(nil); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("nil palette: %v, want ErrInvalidParam", err)
	}
}

func TestSetEnabledChannels(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)
	if err := d.SetEnabledChannels(ChanR | ChanG); err != nil {
		t.Fatal(err)
	}
	if d.EnabledChannels() != ChanR|ChanG {
		t.Errorf("mask = 0x%02x", d.EnabledChannels())
	}
	for i := 0; i < PaletteSize; i++ {
		want := uint32(i)<<16 | uint32(i)<<8
		if tr.palette[i] != want {
			t.Fatalf("R|G ramp entry %d = 0x%06x, want 0x%06x",
				i, tr.palette[i], want)
		}
	}
	if err := d.SetEnabledChannels(0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < PaletteSize; i++ {
		if tr.palette[i] != 0 {
			t.Fatalf("disabled entry %d = 0x%06x, want 0", i, tr.palette[i])
		}
	}
}

func TestSetEnabledChannelsRedLane(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)
	if err := d.SetEnabledChannels(ChanR); err != nil {
		t.Fatal(err)
	}
	// the ramp must land in the red lane only
	if got := tr.palette[200]; got != 200<<16 {
		t.Fatalf("red ramp entry 200 = 0x%06x, want 0xc80000", got)
	}
	if got := tr.writes[200]; got.reg != regPalAddr || got.val != 0xc80000c8 {
		t.Errorf("register write for entry 200 = 0x%04x:0x%08x, want 0x805c:0xc80000c8",
			got.reg, got.val)
	}
}

func TestSetMode(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)
	if err := d.SetMode(ModeSingleChan); err != nil {
		t.Fatal(err)
	}
	if d.Mode() != ModeSingleChan {
		t.Error("mode not recorded")
	}
	if d.EnabledChannels() != ChanR {
		t.Errorf("single channel mode enabled mask 0x%02x, want red only",
			d.EnabledChannels())
	}
	tr.mu.Lock()
	ctrl := tr.regs[regVideoCtrl]
	tr.mu.Unlock()
	if ctrl&(1<<25|1<<26) != 1<<25|1<<26 {
		t.Errorf("palette mode bits not set: 0x%08x", ctrl)
	}

	if err := d.SetMode(ModeMultiChan); err != nil {
		t.Fatal(err)
	}
	tr.mu.Lock()
	ctrl = tr.regs[regVideoCtrl]
	tr.mu.Unlock()
	if ctrl&(1<<25|1<<26) != 0 {
		t.Errorf("palette mode bits still set: 0x%08x", ctrl)
	}
}

func TestSetModeWhileStreaming(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)
	atomic.StoreInt32(&d.status, statusRunning)
	if err := d.SetMode(ModeSingleChan); !errors.Is(err, ErrBusy) {
		t.Errorf("SetMode while running: %v, want ErrBusy", err)
	}
}

func TestI2CRead(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)

	tr.mu.Lock()
	tr.regs[regI2CRdData] = 0x12345678
	tr.mu.Unlock()
	in := make([]byte, 4)
	if err := d.I2CRead(0x4c, 0x10, in); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(in); got != 0x12345678 {
		t.Errorf("read back 0x%08x", got)
	}
	cmd := tr.writes[len(tr.writes)-1]
	if cmd.reg != regI2CCtrl {
		t.Fatalf("command went to 0x%04x", cmd.reg)
	}
	// bit 28 override, register 0x10 in bits 8-15, bit 7 selects a
	// read, slave address in bits 0-6
	if cmd.val != 0x100010cc {
		t.Errorf("read command word = 0x%08x, want 0x100010cc", cmd.val)
	}
}

func TestI2CWrite(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)

	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, 0xdeadbeef)
	if err := d.I2CWrite(0x4c, 0x10, out); err != nil {
		t.Fatal(err)
	}
	tr.mu.Lock()
	if tr.regs[regI2CWrData] != 0xdeadbeef {
		t.Errorf("write data register = 0x%08x", tr.regs[regI2CWrData])
	}
	cmd := tr.writes[len(tr.writes)-1]
	tr.mu.Unlock()
	if cmd.reg != regI2CCtrl {
		t.Fatalf("command went to 0x%04x", cmd.reg)
	}
	// same field layout as the read command with bit 7 clear
	if cmd.val != 0x1000104c {
		t.Errorf("write command word = 0x%08x, want 0x1000104c", cmd.val)
	}
}

func TestI2CNAK(t *testing.T) {
	tr := newMockTransport()
	tr.i2cNAK = true
	d := newDevice(tr)
	buf := make([]byte, 4)
	if err := d.I2CRead(0x50, 0, buf); !errors.Is(err, ErrNotFound) {
		t.Errorf("NAKed read: %v, want ErrNotFound", err)
	}
	if err := d.I2CWrite(0x50, 0, buf); !errors.Is(err, ErrNotFound) {
		t.Errorf("NAKed write: %v, want ErrNotFound", err)
	}
}

func TestI2CTimeout(t *testing.T) {
	tr := newMockTransport()
	tr.i2cBusy = true
	d := newDevice(tr)
	buf := make([]byte, 4)
	if err := d.I2CRead(0x50, 0, buf); !errors.Is(err, ErrTimeout) {
		t.Errorf("stuck engine: %v, want ErrTimeout", err)
	}
}

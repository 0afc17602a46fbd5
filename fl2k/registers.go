package fl2k

import (
	"encoding/binary"
	"fmt"
	"log"
	"time"
)

// register addresses used by the streaming mode setup
const (
	regI2CCtrl   uint16 = 0x8020
	regI2CRdData uint16 = 0x8024
	regI2CWrData uint16 = 0x8028
	regPLLCtrl   uint16 = 0x802c
	regVideoCtrl uint16 = 0x8004
	regHTiming   uint16 = 0x8008
	regVTiming   uint16 = 0x800c
	regHSync     uint16 = 0x8010
	regVSync     uint16 = 0x8014
	regISOCtrl   uint16 = 0x801c
	regPalAddr   uint16 = 0x805c
	regPalRead   uint16 = 0x8060
)

func logf(format string, a ...interface{}) {
	log.Printf(format, a...)
}

func (d *Device) readReg(reg uint16) (uint32, error) {
	var p [4]byte
	n, err := d.tr.ControlIn(reg, p[:])
	if err != nil {
		return 0, fmt.Errorf("read reg 0x%04x: %w", reg, err)
	}
	if n != 4 {
		return 0, fmt.Errorf("read reg 0x%04x: short read (%d bytes)", reg, n)
	}
	return binary.LittleEndian.Uint32(p[:]), nil
}

func (d *Device) writeReg(reg uint16, val uint32) error {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], val)
	n, err := d.tr.ControlOut(reg, p[:])
	if err != nil {
		return fmt.Errorf("write reg 0x%04x: %w", reg, err)
	}
	if n != 4 {
		return fmt.Errorf("write reg 0x%04x: short write (%d bytes)", reg, n)
	}
	return nil
}

// initDevice puts the chip into the gapless streaming configuration:
// DACs powered, PLL at the lowest clock, hsync/vsync suppressed and
// blanking disabled so the frame is one uninterrupted sample run.
func (d *Device) initDevice() error {
	type regVal struct {
		reg uint16
		val uint32
	}
	seq := []regVal{
		{regI2CCtrl, 0xdf0000cc},
		{regPLLCtrl, 0x00416f3f}, // lowest possible DAC clock
		{0x8048, 0x7ffb8004},
		{0x803c, 0xd701004d},
		{regVideoCtrl, 0x0000031c},
		{regVideoCtrl, 0x0010039d},
		{regHTiming, 0x07800898},
		{regISOCtrl, 0x00000000},
		{0x0070, 0x04186085}, // enable DACs

		// no hsync or vsync polarity, no blanking
		{regHTiming, 0xfeff0780},
		{regVTiming, 0x0000f001},

		// total pixel count per line/frame: the VSYNC pair
		{regHSync, 0x0400042a},
		{regVSync, 0x0010002d},

		{regVideoCtrl, 0x00000002},
	}
	for _, rv := range seq {
		if err := d.writeReg(rv.reg, rv.val); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) deinitDevice() {
	// TODO: power down the DACs and PLL instead of leaving the last
	// sample value on the outputs
}

// LoadCustomPalette programs the 256 entry palette RAM used by single
// channel mode and verifies each entry by reading it back. Entries are
// 24 bit, red in bits 16-23, green in 8-15, blue in 0-7. The read
// port returns the entry at the previously latched address, so the
// verify loop latches i+1 before reading entry i.
func (d *Device) LoadCustomPalette(palette *[PaletteSize]uint32) error {
	if d == nil || palette == nil {
		return ErrInvalidParam
	}
	for i := 0; i < PaletteSize; i++ {
		err := d.writeReg(regPalAddr, palette[i]<<8|uint32(i&0xff))
		if err != nil {
			return err
		}
	}
	for i := 0; i < PaletteSize; i++ {
		err := d.writeReg(regPalRead, uint32((i+1)&0xff))
		if err != nil {
			return err
		}
		val, err := d.readReg(regPalAddr)
		if err != nil {
			return err
		}
		if val != palette[i] {
			logf("fl2k: palette readback mismatch at %d: wrote 0x%06x read 0x%06x",
				i, palette[i], val)
		}
	}
	return nil
}

// SetEnabledChannels selects which DACs follow the palette ramp in
// single channel mode. Enabled channels get a linear identity ramp in
// their palette lane, disabled channels stay at zero.
func (d *Device) SetEnabledChannels(mask uint8) error {
	if d == nil {
		return ErrInvalidParam
	}
	var palette [PaletteSize]uint32
	for i := range palette {
		v := uint32(i & 0xff)
		if mask&ChanR != 0 {
			palette[i] |= v << 16
		}
		if mask&ChanG != 0 {
			palette[i] |= v << 8
		}
		if mask&ChanB != 0 {
			palette[i] |= v
		}
	}
	if err := d.LoadCustomPalette(&palette); err != nil {
		return err
	}
	d.enabledChans = mask
	return nil
}

// i2cWait polls the engine's completion flag, giving up after ten
// tries spaced 10 ms apart.
func (d *Device) i2cWait() (uint32, error) {
	for i := 0; i < 10; i++ {
		reg, err := d.readReg(regI2CCtrl)
		if err != nil {
			return 0, err
		}
		if reg&(1<<31) != 0 {
			return reg, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return 0, ErrTimeout
}

// I2CRead reads a 32 bit word from register regAddr of the I2C slave
// at i2cAddr via the chip's built in I2C engine. Returns ErrNotFound
// if the slave does not acknowledge.
func (d *Device) I2CRead(i2cAddr, regAddr byte, data []byte) error {
	if d == nil || len(data) < 4 {
		return ErrInvalidParam
	}
	reg, err := d.readReg(regI2CCtrl)
	if err != nil {
		return err
	}
	// clearing bit 30 disables periodic repetition of the read
	reg &= 0x3ffc0000
	// slave register and address, bit 7 selects a read
	reg |= 1<<28 | uint32(regAddr)<<8 | 1<<7 | uint32(i2cAddr)&0x7f

	if err := d.writeReg(regI2CCtrl, reg); err != nil {
		return err
	}
	status, err := d.i2cWait()
	if err != nil {
		return err
	}
	if status&(0xf<<24) != 0 {
		return ErrNotFound
	}
	val, err := d.readReg(regI2CRdData)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(data, val)
	return nil
}

// I2CWrite writes a 32 bit word to register regAddr of the I2C slave
// at i2cAddr. Returns ErrNotFound if the slave does not acknowledge.
func (d *Device) I2CWrite(i2cAddr, regAddr byte, data []byte) error {
	if d == nil || len(data) < 4 {
		return ErrInvalidParam
	}
	err := d.writeReg(regI2CWrData, binary.LittleEndian.Uint32(data))
	if err != nil {
		return err
	}
	reg, err := d.readReg(regI2CCtrl)
	if err != nil {
		return err
	}
	// clearing bit 30 disables periodic repetition of the read
	reg &= 0x3ffc0000
	// slave register and address, bit 7 clear selects a write
	reg |= 1<<28 | uint32(regAddr)<<8 | uint32(i2cAddr)&0x7f

	if err := d.writeReg(regI2CCtrl, reg); err != nil {
		return err
	}
	status, err := d.i2cWait()
	if err != nil {
		return err
	}
	if status&(0xf<<24) != 0 {
		return ErrNotFound
	}
	return nil
}

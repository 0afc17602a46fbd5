/*Package fl2k drives FL2000-based USB 3.0 to VGA adapters as general
purpose DACs.

The adapter is run in a hacked 'gapless' video mode without horizontal
or vertical sync, so the three color DACs see an uninterrupted sample
stream. An application supplies samples through a callback; the library
keeps a fixed pool of hardware transfer buffers moving between a sample
worker (fills buffers through the callback and the wire-format codec)
and a USB worker (feeds completed buffers back to the device in fill
order).

Basic usage:
	dev, err := fl2k.Open(0)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Close()
	err = dev.StartTx(src, nil, 0) // 0 buffers = default depth
	dev.SetSampleRate(100e6)
	// ... later
	dev.StopTx()

The callback contract: Samples must populate at least one channel slot
of the DataInfo with exactly Len bytes, unless DeviceError is set, in
which case no data fields are valid and the source should wind down.
Callbacks are never invoked concurrently; their latency bounds the
sustainable sample rate.
*/
package fl2k

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// BufLen is the number of samples (bytes) one callback supplies
	// per channel.
	BufLen = 1280 * 1024

	// XferLen is the size of one hardware bulk transfer: three
	// interleaved channels of BufLen samples.
	XferLen = BufLen * 3

	// PaletteSize is the number of entries in the palette RAM used
	// by single channel mode.
	PaletteSize = 256

	// DefaultBufCount is the stream depth used when StartTx is given
	// a count of zero.
	DefaultBufCount = 4
)

// DAC channel enable bits for SetEnabledChannels.
const (
	ChanR uint8 = 1 << 0
	ChanG uint8 = 1 << 1
	ChanB uint8 = 1 << 2
)

// Mode selects how the chip interprets the sample stream.
type Mode int

const (
	// ModeMultiChan drives the R, G and B DACs independently.
	ModeMultiChan Mode = iota

	// ModeSingleChan drives one DAC through the 256 entry palette,
	// one byte per sample.
	ModeSingleChan
)

// async lifecycle states, spelled in the order the hardware library
// has always used
const (
	statusInactive int32 = iota
	statusCanceling
	statusRunning
)

var (
	// ErrInvalidParam is returned for absent sessions, sources or
	// other required arguments.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrNoMem is returned when transfer buffer allocation fails.
	ErrNoMem = errors.New("transfer buffer allocation failed")

	// ErrBusy is returned for operations that are not permitted in
	// the current streaming state.
	ErrBusy = errors.New("operation not permitted in current streaming state")

	// ErrTimeout is returned when the I2C engine does not signal
	// completion within its budget.
	ErrTimeout = errors.New("operation timed out")

	// ErrNotFound is returned when no matching device is attached,
	// or when an I2C slave does not acknowledge.
	ErrNotFound = errors.New("not found")
)

// DataInfo is the descriptor handed to the sample source on every
// buffer request.
type DataInfo struct {
	// Ctx is the opaque value supplied at StartTx.
	Ctx interface{}

	// Len is the number of sample bytes to supply per channel.
	Len int

	// UnderflowCount is a snapshot of the session's cumulative
	// underflow counter at the time of the request.
	UnderflowCount uint32

	// RBuf, GBuf and BBuf are the per-channel sample buffers, to be
	// pointed at the source's data. Single channel mode consumes
	// only RBuf.
	RBuf []byte
	GBuf []byte
	BBuf []byte

	// SampleTypeSigned is set by the source when its samples are
	// signed 8 bit; the codec then rebiases them for the DAC.
	SampleTypeSigned bool

	// DeviceError is set by the library on the final notification
	// after device loss or a source requested abort. A source sets
	// it to abort streaming; conversion of that request is skipped
	// and the device is not treated as lost.
	DeviceError bool
}

// A SampleSource supplies sample data for transmission. Samples is
// called once per buffer request on the sample worker; it is never
// called concurrently with itself.
type SampleSource interface {
	Samples(*DataInfo)
}

// SampleSourceFunc adapts a plain function to the SampleSource
// interface.
type SampleSourceFunc func(*DataInfo)

// Samples implements SampleSource.
func (f SampleSourceFunc) Samples(di *DataInfo) { f(di) }

// Device is one opened FL2000 adapter. All streaming state is scoped
// to the session; a Device supports one streaming session at a time.
type Device struct {
	tr Transport

	mode         Mode
	enabledChans uint8
	rate         float64 // Hz, achieved

	src    SampleSource
	srcCtx interface{}

	// pool and the state/seq tags inside it are guarded by bufMu;
	// bufCond is signaled whenever a buffer changes state and when
	// the lifecycle leaves Running.
	pool    *bufferPool
	bufMu   sync.Mutex
	bufCond *sync.Cond

	status       int32  // atomic, one of the status* constants
	devLost      int32  // atomic flag
	underflowCnt uint32 // atomic

	// closed by the sample worker on exit; the usb worker waits on it
	// before tearing down the pool
	sampleExited chan struct{}
}

// newDevice wires a session around an already opened transport.
func newDevice(tr Transport) *Device {
	d := &Device{tr: tr}
	d.bufCond = sync.NewCond(&d.bufMu)
	return d
}

// Open enumerates attached FL2000 dongles and opens the index-th one.
// The device is initialized into the gapless streaming mode and left
// with its DAC clock at the lowest possible rate.
func Open(index int) (*Device, error) {
	tr, err := openUSB(index)
	if err != nil {
		return nil, err
	}
	d := newDevice(tr)
	if err := d.initDevice(); err != nil {
		tr.Close()
		return nil, fmt.Errorf("fl2k: device init: %w", err)
	}
	return d, nil
}

// Close stops any active streaming session, blocks until it has fully
// quiesced, deinitializes the hardware and releases the transport.
// Close must not be called concurrently with StartTx.
func (d *Device) Close() error {
	if d == nil {
		return ErrInvalidParam
	}
	if err := d.StopTx(); err != nil && !errors.Is(err, ErrBusy) {
		return err
	}
	if atomic.LoadInt32(&d.devLost) == 0 {
		// block until all async operations have completed (if any)
		for atomic.LoadInt32(&d.status) != statusInactive {
			time.Sleep(100 * time.Millisecond)
		}
		d.deinitDevice()
	} else {
		for atomic.LoadInt32(&d.status) != statusInactive {
			time.Sleep(100 * time.Millisecond)
		}
	}
	return d.tr.Close()
}

// StartTx begins streaming samples from src. bufCount selects the
// stream depth (zero means DefaultBufCount); two spare buffers are
// added so the source can fill while the others are in flight. ctx is
// passed through to every DataInfo. Fails with ErrBusy unless the
// session is inactive.
func (d *Device) StartTx(src SampleSource, ctx interface{}, bufCount int) error {
	if d == nil || src == nil {
		return ErrInvalidParam
	}
	if !atomic.CompareAndSwapInt32(&d.status, statusInactive, statusRunning) {
		return ErrBusy
	}
	if bufCount <= 0 {
		bufCount = DefaultBufCount
	}
	d.src = src
	d.srcCtx = ctx

	pool, err := allocPool(d.tr, bufCount+2, XferLen)
	if err != nil {
		atomic.StoreInt32(&d.status, statusInactive)
		return fmt.Errorf("%w: %v", ErrNoMem, err)
	}
	d.pool = pool
	for i := range pool.xfers {
		pool.xfers[i].done = d.transferDone
	}

	// the spare buffers stay Empty; the rest go straight to hardware
	for i := 0; i < bufCount; i++ {
		pool.info[i].state = bufSubmitted
		if err := d.tr.Submit(pool.xfers[i]); err != nil {
			pool.info[i].state = bufEmpty
			logf("fl2k: failed to submit transfer %d: %v", i, err)
			break
		}
	}

	d.sampleExited = make(chan struct{})
	go d.usbWorker()
	go d.sampleWorker()
	return nil
}

// StopTx requests the end of the streaming session. If the session is
// running it moves to Canceling and returns immediately; quiescence is
// asynchronous and can be awaited with Close or by polling Streaming.
// From any other non-inactive state the session is forced inactive
// (recovering from a partial start). Stopping an inactive session
// returns ErrBusy.
func (d *Device) StopTx() error {
	if d == nil {
		return ErrInvalidParam
	}
	if atomic.CompareAndSwapInt32(&d.status, statusRunning, statusCanceling) {
		// unblock a sample worker waiting for an empty buffer
		d.bufCond.Broadcast()
		return nil
	}
	if atomic.LoadInt32(&d.status) != statusInactive {
		atomic.StoreInt32(&d.status, statusInactive)
		return nil
	}
	return ErrBusy
}

// SetMode switches between multichannel and palette (single channel)
// output. Rejected with ErrBusy while streaming. Selecting single
// channel mode loads a linear ramp palette for the red DAC; selecting
// multichannel clears the palette mode bits.
func (d *Device) SetMode(mode Mode) error {
	if d == nil {
		return ErrInvalidParam
	}
	if atomic.LoadInt32(&d.status) == statusRunning {
		return ErrBusy
	}
	if d.mode == mode {
		return nil
	}
	reg, err := d.readReg(regVideoCtrl)
	if err != nil {
		return err
	}
	switch mode {
	case ModeSingleChan:
		// enable 256 color palette mode
		reg |= 1<<25 | 1<<26
		if err := d.SetEnabledChannels(ChanR); err != nil {
			return err
		}
	case ModeMultiChan:
		reg &^= 1<<25 | 1<<26
	default:
		return ErrInvalidParam
	}
	if err := d.writeReg(regVideoCtrl, reg); err != nil {
		return err
	}
	d.mode = mode
	return nil
}

// Mode reports the current operating mode.
func (d *Device) Mode() Mode {
	if d == nil {
		return ModeMultiChan
	}
	return d.mode
}

// EnabledChannels reports the channel mask last set with
// SetEnabledChannels.
func (d *Device) EnabledChannels() uint8 {
	if d == nil {
		return 0
	}
	return d.enabledChans
}

// Underflows reports the cumulative number of cycles in which stale
// data was retransmitted because no fresh buffer was ready.
func (d *Device) Underflows() uint32 {
	if d == nil {
		return 0
	}
	return atomic.LoadUint32(&d.underflowCnt)
}

// Lost reports whether the device has been detected as gone.
func (d *Device) Lost() bool {
	return d != nil && atomic.LoadInt32(&d.devLost) == 1
}

// Streaming reports whether a streaming session is running.
func (d *Device) Streaming() bool {
	return d != nil && atomic.LoadInt32(&d.status) == statusRunning
}

func (d *Device) markLost() {
	atomic.StoreInt32(&d.devLost, 1)
}

package fl2k

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

type dongle struct {
	vid  gousb.ID
	pid  gousb.ID
	name string
}

var knownDevices = []dongle{
	{0x1d5c, 0x2000, "FL2000DX OEM"},
}

func findKnown(desc *gousb.DeviceDesc) *dongle {
	for i := range knownDevices {
		if desc.Vendor == knownDevices[i].vid && desc.Product == knownDevices[i].pid {
			return &knownDevices[i]
		}
	}
	return nil
}

// DeviceCount reports the number of attached FL2000 dongles.
func DeviceCount() int {
	ctx := gousb.NewContext()
	defer ctx.Close()
	count := 0
	ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if findKnown(desc) != nil {
			count++
		}
		return false
	})
	return count
}

// DeviceName reports the product name of the index-th attached
// dongle, or the empty string if there is none.
func DeviceName(index int) string {
	ctx := gousb.NewContext()
	defer ctx.Close()
	name := ""
	i := 0
	ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		d := findKnown(desc)
		if d == nil {
			return false
		}
		if i == index {
			name = d.name
		}
		i++
		return false
	})
	return name
}

const (
	ctrlTimeout  = 300 * time.Millisecond
	ctrlRequest  = 0x40
	ctrlRequestO = 0x41

	completionDepth = 256
)

// usbTransport is the gousb-backed Transport. gousb exposes no raw
// asynchronous submit/cancel surface, so each submitted transfer runs
// its bulk write on a dedicated goroutine under a cancelable context;
// completions are funneled through a channel that HandleEvents drains.
type usbTransport struct {
	ctx *gousb.Context
	dev *gousb.Device
	cfg *gousb.Config
	inf *gousb.Interface
	out *gousb.OutEndpoint

	completions chan completion

	mu      sync.Mutex
	cancels map[*Transfer]context.CancelFunc
}

// openUSB opens the index-th attached FL2000 dongle and claims its
// streaming interface.
func openUSB(index int) (*usbTransport, error) {
	ctx := gousb.NewContext()
	i := 0
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if findKnown(desc) == nil {
			return false
		}
		match := i == index
		i++
		return match
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		ctx.Close()
		return nil, fmt.Errorf("fl2k: usb open: %w", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, ErrNotFound
	}
	dev := devs[0]
	for _, d := range devs[1:] {
		d.Close()
	}

	if err := dev.SetAutoDetach(true); err != nil {
		logf("fl2k: auto detach kernel driver: %v", err)
	}
	dev.ControlTimeout = ctrlTimeout

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("fl2k: set configuration: %w", err)
	}
	inf, err := cfg.Interface(0, 1)
	if err != nil {
		logf("fl2k: claiming alt setting 1 failed (%v), trying interface 1", err)
		inf, err = cfg.Interface(1, 0)
		if err != nil {
			cfg.Close()
			dev.Close()
			ctx.Close()
			return nil, fmt.Errorf("fl2k: claim interface: %w", err)
		}
	}
	out, err := inf.OutEndpoint(1)
	if err != nil {
		inf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("fl2k: open bulk endpoint: %w", err)
	}

	return &usbTransport{
		ctx:         ctx,
		dev:         dev,
		cfg:         cfg,
		inf:         inf,
		out:         out,
		completions: make(chan completion, completionDepth),
		cancels:     make(map[*Transfer]context.CancelFunc),
	}, nil
}

func (t *usbTransport) ControlIn(reg uint16, p []byte) (int, error) {
	return t.dev.Control(gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		ctrlRequest, 0, reg, p)
}

func (t *usbTransport) ControlOut(reg uint16, p []byte) (int, error) {
	return t.dev.Control(gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		ctrlRequestO, 0, reg, p)
}

// AllocDeviceMemory always fails: gousb does not expose the usbfs
// zero copy allocator, so streaming falls back to ordinary buffers.
func (t *usbTransport) AllocDeviceMemory(length int) ([]byte, error) {
	return nil, ErrZeroCopyUnsupported
}

func (t *usbTransport) FreeDeviceMemory(p []byte) error { return nil }

func writeStatus(err error) TransferStatus {
	switch {
	case err == nil:
		return TransferCompleted
	case errors.Is(err, context.Canceled):
		return TransferCancelled
	case errors.Is(err, gousb.ErrorNoDevice):
		return TransferNoDevice
	default:
		return TransferError
	}
}

func (t *usbTransport) Submit(x *Transfer) error {
	wctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	if _, inflight := t.cancels[x]; inflight {
		t.mu.Unlock()
		cancel()
		return fmt.Errorf("fl2k: transfer already submitted")
	}
	t.cancels[x] = cancel
	t.mu.Unlock()

	go func() {
		_, err := t.out.WriteContext(wctx, x.Buf)
		t.mu.Lock()
		delete(t.cancels, x)
		t.mu.Unlock()
		cancel()
		t.completions <- completion{x: x, status: writeStatus(err)}
	}()
	return nil
}

func (t *usbTransport) Cancel(x *Transfer) error {
	t.mu.Lock()
	cancel, inflight := t.cancels[x]
	t.mu.Unlock()
	if !inflight {
		return ErrNotFound
	}
	cancel()
	return nil
}

// HandleEvents delivers pending completions to their transfers' done
// callbacks. With a positive timeout it waits up to that long for the
// first completion, then drains without blocking; with timeout <= 0 it
// only drains.
func (t *usbTransport) HandleEvents(timeout time.Duration) error {
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		select {
		case c := <-t.completions:
			t.deliver(c)
		case <-timer.C:
			return nil
		}
		timer.Stop()
	}
	for {
		select {
		case c := <-t.completions:
			t.deliver(c)
		default:
			return nil
		}
	}
}

func (t *usbTransport) deliver(c completion) {
	c.x.Status = c.status
	if c.x.done != nil {
		c.x.done(c.x)
	}
}

func (t *usbTransport) Close() error {
	if t.inf != nil {
		t.inf.Close()
	}
	if t.cfg != nil {
		t.cfg.Close()
	}
	var err error
	if t.dev != nil {
		err = t.dev.Close()
	}
	if cerr := t.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}

package fl2k

import (
	"errors"
	"time"
)

// TransferStatus is the terminal status of a bulk transfer, reported
// when its completion is delivered by the event pump.
type TransferStatus int

const (
	// TransferCompleted means the whole buffer reached the device.
	TransferCompleted TransferStatus = iota

	// TransferCancelled means the transfer was cancelled before it
	// finished; no resubmission follows.
	TransferCancelled

	// TransferError is any transport failure without a more specific
	// cause.
	TransferError

	// TransferNoDevice means the device has been unplugged.
	TransferNoDevice
)

// ErrZeroCopyUnsupported is returned by AllocDeviceMemory on
// transports that cannot map device-shared memory; the buffer pool
// falls back to process memory.
var ErrZeroCopyUnsupported = errors.New("transport does not support device-mapped buffers")

// A Transfer is one in-flight bulk request against the streaming
// endpoint. Transfers are allocated once per streaming session, 1:1
// with buffer pool slots, and reused until the session quiesces.
type Transfer struct {
	// Buf is the hardware transfer buffer.
	Buf []byte

	// Status of the most recently delivered completion. Written by
	// the event pump before the completion callback runs; only
	// meaningful on that goroutine.
	Status TransferStatus

	slot int
	done func(*Transfer)
}

// completion pairs a finished transfer with its terminal status while
// it waits in a transport's event queue for HandleEvents to deliver it.
type completion struct {
	x      *Transfer
	status TransferStatus
}

// Transport is the host-side USB plumbing the driver runs on. It
// covers exactly the primitives the streaming engine needs: vendor
// control transfers against a register index, asynchronous bulk
// submission with cancellation, an event pump that delivers
// completions, and device-mapped buffer management.
//
// Completion callbacks are invoked from inside HandleEvents, never
// from Submit or Cancel, so the engine's completion handling is
// single-threaded on the worker that pumps events.
type Transport interface {
	// ControlIn reads from register index reg into p and returns the
	// number of bytes transferred.
	ControlIn(reg uint16, p []byte) (int, error)

	// ControlOut writes p to register index reg and returns the
	// number of bytes transferred.
	ControlOut(reg uint16, p []byte) (int, error)

	// AllocDeviceMemory maps length bytes of memory shared with the
	// device's DMA engine, or ErrZeroCopyUnsupported.
	AllocDeviceMemory(length int) ([]byte, error)

	// FreeDeviceMemory releases a buffer from AllocDeviceMemory.
	FreeDeviceMemory(p []byte) error

	// Submit queues t on the streaming bulk endpoint. The result
	// arrives as a completion through HandleEvents. Bulk transfers
	// run without a timeout; they end by completing, failing, or
	// being cancelled.
	Submit(t *Transfer) error

	// Cancel requests cancellation of an in-flight transfer. The
	// confirmation arrives through HandleEvents as a
	// TransferCancelled completion. Cancelling a transfer that is
	// not in flight returns an error and no confirmation follows.
	Cancel(t *Transfer) error

	// HandleEvents delivers pending completions, blocking up to
	// timeout waiting for the first one. A non-positive timeout only
	// drains what is already pending.
	HandleEvents(timeout time.Duration) error

	// Close releases the claimed interface and the device.
	Close() error
}

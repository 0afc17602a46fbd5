package fl2k

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// idleSource returns immediately without supplying data; conversion
// becomes a no-op and the engine free-runs.
type idleSource struct{ calls int32 }

func (s *idleSource) Samples(di *DataInfo) { atomic.AddInt32(&s.calls, 1) }

// gatedSource blocks every data request on a feed channel. Closing
// the channel unblocks it permanently.
type gatedSource struct{ feed chan struct{} }

func (s *gatedSource) Samples(di *DataInfo) {
	if di.DeviceError {
		return
	}
	<-s.feed
}

func waitInactive(t *testing.T, d *Device) {
	t.Helper()
	if !waitFor(5*time.Second, func() bool {
		return atomic.LoadInt32(&d.status) == statusInactive
	}) {
		t.Fatal("session did not quiesce")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)
	src := &idleSource{}

	if err := d.StartTx(src, nil, 0); err != nil {
		t.Fatal(err)
	}
	if !d.Streaming() {
		t.Error("Streaming() false after StartTx")
	}
	if got := tr.submitCount(); got != DefaultBufCount {
		t.Errorf("%d transfers submitted at start, want %d", got, DefaultBufCount)
	}
	if err := d.StartTx(src, nil, 0); !errors.Is(err, ErrBusy) {
		t.Errorf("second StartTx: %v, want ErrBusy", err)
	}

	// the sample worker runs on its own schedule, let it reach the
	// source before tearing the session down
	if !waitFor(2*time.Second, func() bool {
		return atomic.LoadInt32(&src.calls) > 0
	}) {
		t.Fatal("source never consulted")
	}

	if err := d.StopTx(); err != nil {
		t.Fatal(err)
	}
	waitInactive(t, d)
	if tr.inflightCount() != 0 {
		t.Errorf("%d transfers still in flight after stop", tr.inflightCount())
	}
	if err := d.StopTx(); !errors.Is(err, ErrBusy) {
		t.Errorf("StopTx when inactive: %v, want ErrBusy", err)
	}

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if !tr.closed {
		t.Error("transport not released by Close")
	}
}

func TestStartTxNilSource(t *testing.T) {
	d := newDevice(newMockTransport())
	if err := d.StartTx(nil, nil, 0); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("nil source: %v, want ErrInvalidParam", err)
	}
	if d.Streaming() {
		t.Error("session running after rejected start")
	}
}

func TestUnderflowResubmitsStaleBuffer(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)
	src := &gatedSource{feed: make(chan struct{})}

	if err := d.StartTx(src, nil, 4); err != nil {
		t.Fatal(err)
	}
	d.bufMu.Lock()
	poolSize := len(d.pool.bufs)
	d.bufMu.Unlock()
	if poolSize != 6 {
		t.Fatalf("pool size %d for depth 4, want 6 (4 + 2 spare)", poolSize)
	}

	// no buffer is ever filled; each completion must put the stale
	// buffer straight back on the wire
	for i := 1; i <= 4; i++ {
		x := tr.oldestInflight()
		tr.complete(x, TransferCompleted)
		if !waitFor(2*time.Second, func() bool {
			return d.Underflows() == uint32(i) && tr.submitCount() == 4+i
		}) {
			t.Fatalf("after %d completions: underflows = %d, submits = %d",
				i, d.Underflows(), tr.submitCount())
		}
		if got := tr.lastSubmit(); got != x {
			t.Error("a different buffer was submitted during underflow")
		}
	}

	close(src.feed)
	if err := d.StopTx(); err != nil {
		t.Fatal(err)
	}
	waitInactive(t, d)
}

func TestCompletionSubmitsOldestFilled(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)
	src := &idleSource{}

	if err := d.StartTx(src, nil, 4); err != nil {
		t.Fatal(err)
	}
	// the two spare buffers fill while four are in flight
	filled := func() int {
		d.bufMu.Lock()
		defer d.bufMu.Unlock()
		n := 0
		for i := range d.pool.info {
			if d.pool.info[i].state == bufFilled {
				n++
			}
		}
		return n
	}
	if !waitFor(2*time.Second, func() bool { return filled() == 2 }) {
		t.Fatalf("spare buffers not filled, have %d", filled())
	}

	d.bufMu.Lock()
	oldest, ok := d.pool.next(bufFilled)
	d.bufMu.Unlock()
	if !ok {
		t.Fatal("no filled buffer")
	}

	tr.complete(tr.oldestInflight(), TransferCompleted)
	if !waitFor(2*time.Second, func() bool {
		last := tr.lastSubmit()
		return last != nil && last.slot == oldest
	}) {
		t.Errorf("oldest filled buffer (slot %d) was not submitted, last was slot %d",
			oldest, tr.lastSubmit().slot)
	}
	if d.Underflows() != 0 {
		t.Errorf("spurious underflow count %d", d.Underflows())
	}

	if err := d.StopTx(); err != nil {
		t.Fatal(err)
	}
	waitInactive(t, d)
}

// errorSource reports a device problem on its first data request and
// records whether the final notification carried DeviceError.
type errorSource struct {
	calls    int32
	notified int32
}

func (s *errorSource) Samples(di *DataInfo) {
	n := atomic.AddInt32(&s.calls, 1)
	if di.DeviceError {
		atomic.AddInt32(&s.notified, 1)
		return
	}
	if n == 1 {
		di.DeviceError = true
	}
}

func TestCallbackDeviceErrorStopsSession(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)
	src := &errorSource{}

	if err := d.StartTx(src, nil, 4); err != nil {
		t.Fatal(err)
	}
	waitInactive(t, d)

	// an application abort is not device loss, Close must still
	// deinitialize the hardware
	if d.Lost() {
		t.Error("device marked lost after application abort")
	}
	if got := atomic.LoadInt32(&src.calls); got != 2 {
		t.Errorf("source called %d times, want 2 (data request plus notification)", got)
	}
	if atomic.LoadInt32(&src.notified) != 1 {
		t.Error("final notification missing or repeated")
	}
	if tr.inflightCount() != 0 {
		t.Error("transfers left in flight after fatal callback")
	}
}

func TestTransferErrorMarksDeviceLost(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)
	src := &gatedSource{feed: make(chan struct{})}

	if err := d.StartTx(src, nil, 4); err != nil {
		t.Fatal(err)
	}
	tr.complete(tr.oldestInflight(), TransferNoDevice)

	if !waitFor(2*time.Second, d.Lost) {
		t.Fatal("device loss not detected")
	}
	close(src.feed)
	waitInactive(t, d)
	if tr.inflightCount() != 0 {
		t.Error("transfers left in flight after device loss")
	}
}

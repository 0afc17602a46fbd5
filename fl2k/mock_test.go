package fl2k

import (
	"encoding/binary"
	"sync"
	"time"
)

type regWrite struct {
	reg uint16
	val uint32
}

// mockTransport emulates enough of the FL2000 register file and bulk
// pipeline to exercise the library without hardware. Bulk transfers
// stay in flight until the test completes or cancels them.
type mockTransport struct {
	mu      sync.Mutex
	regs    map[uint16]uint32
	writes  []regWrite
	palette [PaletteSize]uint32
	palRead uint32
	i2cNAK  bool
	i2cBusy bool

	allocHook func(length int) ([]byte, error)

	inflight    map[*Transfer]bool
	submits     []*Transfer
	completions chan completion
	closed      bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		regs:        make(map[uint16]uint32),
		inflight:    make(map[*Transfer]bool),
		completions: make(chan completion, 64),
	}
}

func (m *mockTransport) ControlIn(reg uint16, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var val uint32
	switch reg {
	case regPalAddr:
		// the read port lags the latched address by one entry
		val = m.palette[(m.palRead+PaletteSize-1)%PaletteSize]
	default:
		val = m.regs[reg]
	}
	binary.LittleEndian.PutUint32(p, val)
	return 4, nil
}

func (m *mockTransport) ControlOut(reg uint16, p []byte) (int, error) {
	val := binary.LittleEndian.Uint32(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, regWrite{reg, val})
	switch reg {
	case regPalAddr:
		m.palette[val&0xff] = val >> 8
	case regPalRead:
		m.palRead = val
	case regI2CCtrl:
		if m.i2cBusy {
			m.regs[reg] = val &^ (1 << 31)
			break
		}
		status := val | 1<<31
		if m.i2cNAK {
			status |= 1 << 24
		}
		m.regs[reg] = status
	default:
		m.regs[reg] = val
	}
	return 4, nil
}

func (m *mockTransport) AllocDeviceMemory(length int) ([]byte, error) {
	if m.allocHook != nil {
		return m.allocHook(length)
	}
	return nil, ErrZeroCopyUnsupported
}

func (m *mockTransport) FreeDeviceMemory(p []byte) error { return nil }

func (m *mockTransport) Submit(x *Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight[x] = true
	m.submits = append(m.submits, x)
	return nil
}

func (m *mockTransport) Cancel(x *Transfer) error {
	m.mu.Lock()
	if !m.inflight[x] {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.inflight, x)
	m.mu.Unlock()
	m.completions <- completion{x: x, status: TransferCancelled}
	return nil
}

// complete finishes an in-flight transfer with the given status, as if
// the hardware had consumed it.
func (m *mockTransport) complete(x *Transfer, status TransferStatus) {
	m.mu.Lock()
	delete(m.inflight, x)
	m.mu.Unlock()
	m.completions <- completion{x: x, status: status}
}

func (m *mockTransport) HandleEvents(timeout time.Duration) error {
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		select {
		case c := <-m.completions:
			m.deliver(c)
		case <-timer.C:
			return nil
		}
		timer.Stop()
	}
	for {
		select {
		case c := <-m.completions:
			m.deliver(c)
		default:
			return nil
		}
	}
}

func (m *mockTransport) deliver(c completion) {
	c.x.Status = c.status
	if c.x.done != nil {
		c.x.done(c.x)
	}
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) inflightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

func (m *mockTransport) submitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submits)
}

func (m *mockTransport) lastSubmit() *Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.submits) == 0 {
		return nil
	}
	return m.submits[len(m.submits)-1]
}

func (m *mockTransport) oldestInflight() *Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.submits {
		if m.inflight[x] {
			return x
		}
	}
	return nil
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

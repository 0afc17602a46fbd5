package fl2k

import "bytes"

// Buffer states within the pool. A buffer cycles
// Empty -> Filled -> Submitted -> Empty; the initial submissions at
// stream start go Empty -> Submitted directly (they carry whatever the
// allocator left in them, which the DACs emit until real data arrives).
type bufState int

const (
	bufEmpty bufState = iota
	bufSubmitted
	bufFilled
)

type xferInfo struct {
	state bufState
	seq   uint64 // fill order tag, valid while state == bufFilled
}

// bufferPool owns the transfer buffers of one streaming session.
// State and seq tags are guarded by the Device's bufMu.
type bufferPool struct {
	bufs     [][]byte
	info     []xferInfo
	xfers    []*Transfer
	zerocopy bool
	bufLen   int
}

// zeroCopyValid detects the kernel defect where device memory maps as
// a nonzero constant fill instead of zeroes. Such memory reads back
// wrong over the bus and must not be used.
func zeroCopyValid(b []byte) bool {
	return b[0] == 0 && bytes.Equal(b[:len(b)-1], b[1:])
}

// allocPool allocates count transfer buffers of bufLen bytes each,
// preferring device memory for zero copy USB. Zero copy is all or
// nothing: if any allocation fails or probes as defective, every
// device buffer is released and the whole pool falls back to normal
// allocations.
func allocPool(tr Transport, count, bufLen int) (*bufferPool, error) {
	p := &bufferPool{
		bufs:   make([][]byte, count),
		info:   make([]xferInfo, count),
		xfers:  make([]*Transfer, count),
		bufLen: bufLen,
	}

	p.zerocopy = true
	for i := 0; i < count; i++ {
		b, err := tr.AllocDeviceMemory(bufLen)
		if err == nil && !zeroCopyValid(b) {
			logf("fl2k: device memory is defective, not using zero copy")
			tr.FreeDeviceMemory(b)
			err = ErrZeroCopyUnsupported
		}
		if err != nil {
			for j := 0; j < i; j++ {
				tr.FreeDeviceMemory(p.bufs[j])
				p.bufs[j] = nil
			}
			p.zerocopy = false
			break
		}
		p.bufs[i] = b
	}
	if !p.zerocopy {
		for i := 0; i < count; i++ {
			p.bufs[i] = make([]byte, bufLen)
		}
	}

	for i := 0; i < count; i++ {
		p.xfers[i] = &Transfer{Buf: p.bufs[i], slot: i}
	}
	return p, nil
}

// free releases the pool's buffers back to the transport.
func (p *bufferPool) free(tr Transport) {
	if p == nil {
		return
	}
	if p.zerocopy {
		for i, b := range p.bufs {
			tr.FreeDeviceMemory(b)
			p.bufs[i] = nil
		}
	}
	p.bufs = nil
	p.xfers = nil
	p.info = nil
}

// next picks the buffer to use for the given state: any Empty buffer
// for filling, or the oldest Filled buffer (lowest seq) for
// submission. Caller holds bufMu.
func (p *bufferPool) next(state bufState) (int, bool) {
	if state == bufEmpty {
		for i := range p.info {
			if p.info[i].state == bufEmpty {
				return i, true
			}
		}
		return 0, false
	}
	best := -1
	for i := range p.info {
		if p.info[i].state != state {
			continue
		}
		if best < 0 || p.info[i].seq < p.info[best].seq {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

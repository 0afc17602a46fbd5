package source

import (
	"sync/atomic"

	"github.com/osmo-rf/gofl2k/fl2k"
)

// Square is a full scale square wave at half the sample rate, the
// highest frequency the DAC can express. Its spectrum makes clock
// error measurement trivial, which is what cmd/fl2ktest uses it for.
type Square struct {
	buf     []byte
	buffers uint64 // atomic
}

// NewSquare builds the generator with its pattern precomputed.
func NewSquare() *Square {
	s := &Square{buf: make([]byte, fl2k.BufLen)}
	for i := 0; i+1 < len(s.buf); i += 2 {
		s.buf[i] = 0x00
		s.buf[i+1] = 0xff
	}
	return s
}

// Samples implements fl2k.SampleSource.
func (s *Square) Samples(di *fl2k.DataInfo) {
	if di.DeviceError {
		return
	}
	di.RBuf = s.buf
	atomic.AddUint64(&s.buffers, 1)
}

// Buffers reports how many buffer requests have been served, which
// together with the buffer length and the wall clock gives the
// effective sample rate.
func (s *Square) Buffers() uint64 {
	return atomic.LoadUint64(&s.buffers)
}

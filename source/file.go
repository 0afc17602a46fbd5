package source

import (
	"io"
	"sync/atomic"

	"github.com/osmo-rf/gofl2k/fl2k"
)

// File streams raw 8 bit samples from an io.Reader. Short reads keep
// being retried until the buffer is complete; on end of input the
// source either rewinds (when the reader is an io.Seeker and Repeat is
// set) or pads the final buffer with silence and announces exhaustion
// through Done.
type File struct {
	r io.Reader

	// Signed marks the input as signed 8 bit samples.
	Signed bool

	// Repeat rewinds seekable input on EOF instead of stopping.
	Repeat bool

	buf     []byte
	repeats uint32 // atomic
	done    chan struct{}
	stopped bool
}

// NewFile wraps r as a sample source.
func NewFile(r io.Reader) *File {
	return &File{r: r, done: make(chan struct{})}
}

// Done is closed when the input is exhausted or the device reported an
// error; the caller should then stop the streaming session.
func (f *File) Done() <-chan struct{} { return f.done }

// Repeats reports how many times the input has been rewound.
func (f *File) Repeats() uint32 { return atomic.LoadUint32(&f.repeats) }

func (f *File) stop() {
	if !f.stopped {
		f.stopped = true
		close(f.done)
	}
}

// Samples implements fl2k.SampleSource.
func (f *File) Samples(di *fl2k.DataInfo) {
	if di.DeviceError {
		f.stop()
		return
	}
	if f.buf == nil {
		f.buf = make([]byte, di.Len)
	}
	di.SampleTypeSigned = f.Signed
	di.RBuf = f.buf
	if f.stopped {
		return
	}

	got := 0
	for got < len(f.buf) {
		n, err := f.r.Read(f.buf[got:])
		got += n
		if err == nil {
			continue
		}
		if err == io.EOF {
			if f.Repeat {
				if s, ok := f.r.(io.Seeker); ok {
					if _, serr := s.Seek(0, io.SeekStart); serr == nil {
						atomic.AddUint32(&f.repeats, 1)
						continue
					}
				}
			}
		}
		fillSilence(f.buf[got:], f.Signed)
		f.stop()
		return
	}
}

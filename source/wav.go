package source

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/osmo-rf/gofl2k/fl2k"
)

// WAV streams PCM samples from a WAV file, truncated to the DAC's
// 8 bit resolution. Multichannel files are reduced to their first
// channel. 16 bit content keeps its sign (the codec rebiases it);
// 8 bit WAV is already unsigned.
type WAV struct {
	dec *wav.Decoder

	// Repeat rewinds the file on EOF instead of stopping.
	Repeat bool

	buf     []byte
	pcm     *audio.IntBuffer
	repeats uint32 // atomic
	done    chan struct{}
	stopped bool
}

// NewWAV validates and prepares a WAV stream for playback.
func NewWAV(r io.ReadSeeker) (*WAV, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("source: not a valid WAV file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("source: locate PCM data: %w", err)
	}
	if dec.BitDepth != 8 && dec.BitDepth != 16 {
		return nil, fmt.Errorf("source: unsupported WAV bit depth %d", dec.BitDepth)
	}
	if dec.NumChans == 0 {
		return nil, fmt.Errorf("source: WAV file declares no channels")
	}
	return &WAV{dec: dec, done: make(chan struct{})}, nil
}

// SampleRate reports the file's sample rate in Hz, the natural choice
// for the DAC clock.
func (w *WAV) SampleRate() uint32 { return w.dec.SampleRate }

// Done is closed when playback finished or the device reported an
// error.
func (w *WAV) Done() <-chan struct{} { return w.done }

// Repeats reports how many times the file has been rewound.
func (w *WAV) Repeats() uint32 { return atomic.LoadUint32(&w.repeats) }

func (w *WAV) stop() {
	if !w.stopped {
		w.stopped = true
		close(w.done)
	}
}

// Samples implements fl2k.SampleSource.
func (w *WAV) Samples(di *fl2k.DataInfo) {
	if di.DeviceError {
		w.stop()
		return
	}
	signed := w.dec.BitDepth == 16
	if w.buf == nil {
		w.buf = make([]byte, di.Len)
		w.pcm = &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: int(w.dec.NumChans),
				SampleRate:  int(w.dec.SampleRate),
			},
			Data: make([]int, di.Len*int(w.dec.NumChans)),
		}
	}
	di.SampleTypeSigned = signed
	di.RBuf = w.buf
	if w.stopped {
		return
	}

	got := 0
	step := int(w.dec.NumChans)
	for got < len(w.buf) {
		w.pcm.Data = w.pcm.Data[:(len(w.buf)-got)*step]
		n, err := w.dec.PCMBuffer(w.pcm)
		if err != nil {
			fillSilence(w.buf[got:], signed)
			w.stop()
			return
		}
		for i := 0; i+step-1 < n; i += step {
			v := w.pcm.Data[i]
			if signed {
				w.buf[got] = byte(v >> 8)
			} else {
				w.buf[got] = byte(v)
			}
			got++
		}
		if n < len(w.pcm.Data) {
			// end of PCM data
			if w.Repeat {
				if err := w.dec.Rewind(); err == nil {
					atomic.AddUint32(&w.repeats, 1)
					continue
				}
			}
			fillSilence(w.buf[got:], signed)
			w.stop()
			return
		}
	}
}

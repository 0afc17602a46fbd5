/*Package source provides fl2k.SampleSource implementations for the
command line producers: raw files and stdin, 16 bit PCM WAV files, TCP
sample streams and a synthetic square wave test signal.

All sources are single channel; they populate the red channel buffer
and leave green and blue untouched. A source owns one backing buffer
that it refills on every request, which is safe because the engine
consumes the data before the next callback.
*/
package source

import "github.com/osmo-rf/gofl2k/fl2k"

// midscale is the DAC output for silence with unsigned samples.
const midscale = 0x80

// fillSilence pads the tail of a buffer after a short read so the DAC
// idles at midscale (or zero for signed samples) instead of replaying
// stale data.
func fillSilence(b []byte, signed bool) {
	v := byte(midscale)
	if signed {
		v = 0
	}
	for i := range b {
		b[i] = v
	}
}

var _ fl2k.SampleSource = (*Square)(nil)
var _ fl2k.SampleSource = (*File)(nil)
var _ fl2k.SampleSource = (*TCP)(nil)
var _ fl2k.SampleSource = (*WAV)(nil)

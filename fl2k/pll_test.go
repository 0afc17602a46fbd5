package fl2k

import (
	"math"
	"testing"
)

// bruteForcePLL enumerates the whole divider space independently of
// the search order optimizations and returns the minimum achievable
// error for a target.
func bruteForcePLL(target uint32) float64 {
	best := math.Inf(1)
	for mult := uint32(3); mult <= 6; mult++ {
		for div := uint32(2); div <= 63; div++ {
			for frac := uint32(1); frac <= 15; frac++ {
				err := math.Abs(pllRegToFreq(mult, div, frac, 1) - float64(target))
				if err < best {
					best = err
				}
			}
		}
	}
	return best
}

func TestPLLSynthesizeOptimal(t *testing.T) {
	targets := []uint32{
		810000, 5000000, 8000000, 13370000, 40000000,
		65536000, 96000000, 100000000, 128000000, 157000000,
	}
	for _, target := range targets {
		_, achieved := pllSynthesize(target)
		got := math.Abs(achieved - float64(target))
		want := bruteForcePLL(target)
		if got != want {
			t.Errorf("target %d Hz: error %.3f Hz, optimum is %.3f Hz",
				target, got, want)
		}
	}
}

func TestPLLSynthesize100MHz(t *testing.T) {
	reg, achieved := pllSynthesize(100000000)
	if achieved != 100000000 {
		t.Errorf("achieved = %.3f Hz, want exactly 100000000", achieved)
	}
	// mult 6, div 10 gives 96 MHz; the 1 MHz fractional step times
	// frac 4 lands exactly on target
	const want = 6<<20 | 4<<16 | 0x60<<8 | 1<<8 | 10
	if reg != want {
		t.Errorf("reg = 0x%06x, want 0x%06x", reg, want)
	}
}

func TestPLLRegToFreqTruncation(t *testing.T) {
	// 160e6 * 6 / 7 truncates to 137142857, not ...857.14
	f := pllRegToFreq(6, 7, 1, 1)
	base := float64((160000000 * 6) / 7)
	if f < base {
		t.Errorf("frequency %.3f below integer base %.0f", f, base)
	}
	if f-base > 2e6 {
		t.Errorf("fractional contribution %.3f implausibly large", f-base)
	}
}

func TestSetSampleRate(t *testing.T) {
	tr := newMockTransport()
	d := newDevice(tr)
	achieved, err := d.SetSampleRate(100000000)
	if err != nil {
		t.Fatal(err)
	}
	if achieved != 100000000 {
		t.Errorf("achieved = %d, want 100000000", achieved)
	}
	if got := d.SampleRate(); got != 100000000 {
		t.Errorf("SampleRate() = %d, want 100000000", got)
	}
	tr.mu.Lock()
	last := tr.writes[len(tr.writes)-1]
	tr.mu.Unlock()
	if last.reg != regPLLCtrl {
		t.Errorf("last write went to 0x%04x, want PLL control", last.reg)
	}
	if last.val != 0x64610a {
		t.Errorf("PLL register = 0x%08x, want 0x0064610a", last.val)
	}
}

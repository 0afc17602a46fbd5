package fl2k

import "math"

// pllClock is the reference the sample clock synthesizer runs from.
const pllClock = 160000000

// pllRegToFreq computes the output frequency of a given divider
// combination, reproducing the integer truncation behavior of the
// vendor's frequency model (the fractional term contributes in whole
// steps of clock/(clock/5*mult/2) ppm).
func pllRegToFreq(mult, div, frac, outDiv uint32) float64 {
	clock := float64((pllClock * mult) / div)
	offsDiv := float64(pllClock) / 5.0 * float64(mult)
	offset := clock / (offsDiv / 2) * 1000000.0
	clock += float64(uint32(offset) * frac)
	clock /= float64(outDiv)
	return clock
}

// pllSynthesize searches the divider space for the combination whose
// output is closest to target Hz and returns the register image along
// with the achieved frequency. Ties keep the first (highest mult)
// combination found.
func pllSynthesize(target uint32) (reg uint32, achieved float64) {
	var bestMult, bestDiv, bestFrac uint32
	const outDiv uint32 = 1
	lastErr := math.Inf(1)

	for mult := uint32(6); mult >= 3; mult-- {
		for div := uint32(63); div >= 2; div-- {
			for frac := uint32(1); frac <= 15; frac++ {
				f := pllRegToFreq(mult, div, frac, outDiv)
				err := math.Abs(f - float64(target))
				if err < lastErr {
					lastErr = err
					bestMult, bestDiv, bestFrac = mult, div, frac
					achieved = f
				}
			}
		}
	}

	reg = bestMult<<20 | bestFrac<<16 | 0x60<<8 | outDiv<<8 | bestDiv
	return reg, achieved
}

// SetSampleRate programs the DAC clock to the closest achievable rate
// at or around target Hz and returns the rate actually obtained, which
// generally differs from the request by a fraction. A deviation above
// 1 Hz is logged.
func (d *Device) SetSampleRate(target uint32) (uint32, error) {
	if d == nil {
		return 0, ErrInvalidParam
	}
	reg, achieved := pllSynthesize(target)
	if diff := achieved - float64(target); diff > 1.0 || diff < -1.0 {
		logf("fl2k: requested sample rate %d Hz not possible, using %.3f Hz",
			target, achieved)
	}
	d.rate = achieved
	return uint32(achieved), d.writeReg(regPLLCtrl, reg)
}

// SampleRate reports the currently achieved sample rate in Hz, or 0
// if none has been set.
func (d *Device) SampleRate() uint32 {
	if d == nil {
		return 0
	}
	return uint32(d.rate)
}

package fl2k

// The wire format interleaves the three color channels in repeating
// 24 byte groups with a scrambled byte order. Each convert function
// scatters 8 input samples into its channel's slots of one group; the
// three offset tables partition the 24 positions. A bias of 0x80 is
// added (with wraparound) when the source supplies signed samples.

var (
	rOffsets = [8]int{6, 1, 12, 15, 10, 21, 16, 19}
	gOffsets = [8]int{5, 0, 3, 14, 9, 20, 23, 18}
	bOffsets = [8]int{4, 7, 2, 13, 8, 11, 22, 17}
)

func convertChan(out, in []byte, offsets *[8]int, bias byte) {
	if out == nil || in == nil {
		return
	}
	j := 0
	for i := 0; i+23 < len(out) && j+7 < len(in); i += 24 {
		out[i+offsets[0]] = in[j+0] + bias
		out[i+offsets[1]] = in[j+1] + bias
		out[i+offsets[2]] = in[j+2] + bias
		out[i+offsets[3]] = in[j+3] + bias
		out[i+offsets[4]] = in[j+4] + bias
		out[i+offsets[5]] = in[j+5] + bias
		out[i+offsets[6]] = in[j+6] + bias
		out[i+offsets[7]] = in[j+7] + bias
		j += 8
	}
}

func convertR(out, in []byte, bias byte) { convertChan(out, in, &rOffsets, bias) }
func convertG(out, in []byte, bias byte) { convertChan(out, in, &gOffsets, bias) }
func convertB(out, in []byte, bias byte) { convertChan(out, in, &bOffsets, bias) }

// convertSingleChan rewrites samples for palette mode, which consumes
// one byte per sample but with the 4 byte halves of every 8 byte group
// swapped on the wire.
func convertSingleChan(out, in []byte, bias byte) {
	if out == nil || in == nil {
		return
	}
	for i := 0; i+7 < len(in) && i+7 < len(out); i += 8 {
		out[i+4] = in[i+0] + bias
		out[i+5] = in[i+1] + bias
		out[i+6] = in[i+2] + bias
		out[i+7] = in[i+3] + bias
		out[i+0] = in[i+4] + bias
		out[i+1] = in[i+5] + bias
		out[i+2] = in[i+6] + bias
		out[i+3] = in[i+7] + bias
	}
}

func sampleBias(signed bool) byte {
	if signed {
		return 0x80
	}
	return 0
}

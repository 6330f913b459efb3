// Package resample implements a small linear-interpolation sample-rate
// converter, standing in for the SoX-style resampler spec §4.6 names as
// the audio pipeline's collaborator between the native device rate and
// AMR-NB's fixed 8kHz.
package resample

// Resampler converts a stream of mono 16-bit PCM samples from one sample
// rate to another using linear interpolation. It carries the fractional
// phase and trailing sample across calls so a stream split into arbitrary
// chunks resamples the same as if it were processed whole.
type Resampler struct {
	inRate  int
	outRate int

	havePrev bool
	prev     int16
	phase    float64 // fractional input-sample position of the next output sample, relative to prev
}

// New returns a Resampler converting from inRate to outRate, both in Hz.
func New(inRate, outRate int) *Resampler {
	return &Resampler{inRate: inRate, outRate: outRate}
}

// Process resamples in and returns the converted samples. Call it
// repeatedly on consecutive chunks of the same stream; state carries
// across calls.
func (r *Resampler) Process(in []int16) []int16 {
	if r.inRate == r.outRate {
		return append([]int16(nil), in...)
	}
	if len(in) == 0 {
		return nil
	}

	step := float64(r.inRate) / float64(r.outRate)

	// virt is the input sequence, prefixed with the last sample carried
	// from the previous call so the first output sample can interpolate
	// across the call boundary.
	var virt []int16
	pos := r.phase
	if r.havePrev {
		virt = make([]int16, 0, len(in)+1)
		virt = append(virt, r.prev)
		virt = append(virt, in...)
	} else {
		virt = in
		if pos < 0 {
			pos = 0
		}
	}

	var out []int16
	for {
		i0 := int(pos)
		if i0+1 >= len(virt) {
			break
		}
		frac := pos - float64(i0)
		out = append(out, lerp(virt[i0], virt[i0+1], frac))
		pos += step
	}

	// Rebase phase relative to the last sample of virt, which becomes the
	// carried-over prev for the next call.
	r.phase = pos - float64(len(virt)-1)
	r.prev = virt[len(virt)-1]
	r.havePrev = true

	return out
}

func lerp(a, b int16, frac float64) int16 {
	return int16(float64(a) + (float64(b)-float64(a))*frac)
}

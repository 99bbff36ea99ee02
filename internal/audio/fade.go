package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// FadeEdges ramps the first and last n samples in place with a smoothstep
// curve so consecutive chunks join without a click. Buffers shorter than 2n
// are ramped over half their length.
func FadeEdges(samples []int16, n int) {
	if n <= 0 || len(samples) == 0 {
		return
	}
	if n > len(samples)/2 {
		n = len(samples) / 2
	}
	last := len(samples) - 1
	for i := 0; i < n; i++ {
		gain := Smoothstep(float64(i) / float64(n))
		samples[i] = int16(float64(samples[i]) * gain)
		samples[last-i] = int16(float64(samples[last-i]) * gain)
	}
}

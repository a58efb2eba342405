package pcm

import "math"

// RMS is the root mean square of samples in [-1, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level maps RMS onto a 0..100 meter scale.
func Level(samples []float32) int {
	v := RMS(samples) * 140
	if v > 100 {
		v = 100
	}
	return int(math.Round(v))
}

// Package pcm converts and measures 16-bit little-endian PCM audio.
package pcm

import (
	"encoding/binary"
	"math"
	"time"
)

// Resample converts float samples between rates with linear interpolation.
func Resample(input []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return input
	}

	ratio := float64(toRate) / float64(fromRate)
	output := make([]float32, int(math.Ceil(float64(len(input))*ratio)))
	interpolate(output, input, ratio)
	return output
}

func interpolate(output, input []float32, ratio float64) {
	for i := range output {
		pos := float64(i) / ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		switch {
		case idx+1 < len(input):
			output[i] = input[idx]*(1-frac) + input[idx+1]*frac
		case idx < len(input):
			output[i] = input[idx]
		}
	}
}

func ResampleInt16(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		return samples
	}
	return ToInt16(Resample(ToFloat32(samples), fromRate, toRate))
}

// Decode reads little-endian 16-bit samples. A trailing odd byte is ignored.
func Decode(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

func Encode(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// ToInt16 clips to [-1, 1] before scaling.
func ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		out[i] = int16(s * 32767.0)
	}
	return out
}

// Downmix averages interleaved channels into mono.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// ToMono16k downmixes and resamples PCM bytes to 16 kHz mono.
func ToMono16k(data []byte, sampleRate, channels int) []byte {
	if sampleRate == 16000 && channels <= 1 {
		return data
	}
	samples := Downmix(Decode(data), channels)
	return Encode(ResampleInt16(samples, sampleRate, 16000))
}

// Gain scales samples in place. Factors outside [0, 1] are clamped.
func Gain(samples []float32, factor float64) {
	if factor >= 1 {
		return
	}
	if factor < 0 {
		factor = 0
	}
	g := float32(factor)
	for i := range samples {
		samples[i] *= g
	}
}

// Duration is the play time of n mono samples at rate.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// PCM16ToFloat32 converts 16-bit little-endian PCM into samples in [-1, 1)
// by dividing by 32768. A trailing odd byte is ignored.
func PCM16ToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return samples
}

// Float32ToPCM16 converts samples back to 16-bit little-endian PCM, clipping
// values outside [-1, 1].
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// BytesToInt16 reinterprets 16-bit little-endian PCM as samples.
func BytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

func floatToInt16(s float32) int16 {
	v := float64(s) * 32768
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ApplyFades ramps the first and last fade worth of samples linearly from
// and to silence, in place. Buffers shorter than two fades get a fade of
// half their length on each side.
func ApplyFades(samples []float32, sampleRate int, fade time.Duration) {
	if fade <= 0 || sampleRate <= 0 || len(samples) == 0 {
		return
	}
	n := int(fade.Seconds() * float64(sampleRate))
	if n > len(samples)/2 {
		n = len(samples) / 2
	}
	if n == 0 {
		return
	}
	last := len(samples) - 1
	for i := 0; i < n; i++ {
		g := float32(i) / float32(n)
		samples[i] *= g
		samples[last-i] *= g
	}
}

// ApplyGain scales samples in place.
func ApplyGain(samples []float32, gain float64) {
	if gain == 1 {
		return
	}
	g := float32(gain)
	for i := range samples {
		samples[i] *= g
	}
}

// Resample performs linear interpolation resampling
func Resample(samples []float32, inputRate, outputRate int) []float32 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	output := make([]float32, int(float64(len(samples))*ratio))

	for i := range output {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}
		fraction := float32(srcPos - float64(idx0))
		output[i] = samples[idx0]*(1-fraction) + samples[idx1]*fraction
	}

	return output
}

// DownmixStereo averages interleaved stereo samples into mono.
func DownmixStereo(interleaved []float32) []float32 {
	mono := make([]float32, len(interleaved)/2)
	for i := range mono {
		mono[i] = (interleaved[i*2] + interleaved[i*2+1]) / 2
	}
	return mono
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

package audio

import (
	"math"
	"testing"
	"time"
)

func TestPCM16ToFloat32(t *testing.T) {
	// 0, 16384, -32768 little-endian
	data := []byte{0x00, 0x00, 0x00, 0x40, 0x00, 0x80}
	samples := PCM16ToFloat32(data)

	if len(samples) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(samples))
	}
	if samples[0] != 0 || samples[1] != 0.5 || samples[2] != -1 {
		t.Errorf("Unexpected samples: %v", samples)
	}
}

func TestPCM16ToFloat32_OddLength(t *testing.T) {
	samples := PCM16ToFloat32([]byte{0x00, 0x40, 0x7f})
	if len(samples) != 1 {
		t.Errorf("Expected trailing byte to be ignored, got %d samples", len(samples))
	}
}

func TestFloat32ToPCM16_Clips(t *testing.T) {
	data := Float32ToPCM16([]float32{2, -2, 0.5})
	samples := BytesToInt16(data)

	if samples[0] != math.MaxInt16 || samples[1] != math.MinInt16 {
		t.Errorf("Expected clipping, got %v", samples)
	}
	if samples[2] != 16384 {
		t.Errorf("Expected 16384, got %d", samples[2])
	}
}

func TestApplyFades(t *testing.T) {
	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = 1
	}

	// 10ms at 10kHz = 100 samples on each side
	ApplyFades(samples, 10000, 10*time.Millisecond)

	if samples[0] != 0 {
		t.Errorf("Expected first sample silent, got %f", samples[0])
	}
	if samples[len(samples)-1] != 0 {
		t.Errorf("Expected last sample silent, got %f", samples[len(samples)-1])
	}
	if samples[50] <= 0 || samples[50] >= 1 {
		t.Errorf("Expected sample inside fade-in to be attenuated, got %f", samples[50])
	}
	if samples[500] != 1 {
		t.Errorf("Expected middle sample untouched, got %f", samples[500])
	}
}

func TestApplyFades_ShortBuffer(t *testing.T) {
	samples := []float32{1, 1, 1, 1}
	ApplyFades(samples, 24000, 10*time.Millisecond)

	if samples[0] != 0 || samples[3] != 0 {
		t.Errorf("Expected edges faded on a short buffer, got %v", samples)
	}
}

func TestApplyGain(t *testing.T) {
	samples := []float32{0.5, -0.25}
	ApplyGain(samples, 2)
	if samples[0] != 1 || samples[1] != -0.5 {
		t.Errorf("Unexpected gain result: %v", samples)
	}
}

func TestResample(t *testing.T) {
	samples := make([]float32, 240)
	for i := range samples {
		samples[i] = float32(i) / 240
	}

	out := Resample(samples, 24000, 8000)
	if len(out) != 80 {
		t.Errorf("Expected 80 samples, got %d", len(out))
	}

	same := Resample(samples, 16000, 16000)
	if len(same) != len(samples) {
		t.Error("Expected identical rate to return input")
	}
}

func TestDownmixStereo(t *testing.T) {
	mono := DownmixStereo([]float32{1, 0, -1, -1})
	if len(mono) != 2 || mono[0] != 0.5 || mono[1] != -1 {
		t.Errorf("Unexpected downmix: %v", mono)
	}
}

func TestCalculateRMS(t *testing.T) {
	samples := []int16{1000, -1000, 1000, -1000}
	rms := CalculateRMS(samples)
	if math.Abs(rms-1000) > 0.001 {
		t.Errorf("Expected RMS 1000, got %f", rms)
	}
}

func TestCalculateRMS_Empty(t *testing.T) {
	if CalculateRMS(nil) != 0 {
		t.Error("Expected RMS of empty input to be 0")
	}
}

package audio

import (
	"testing"
)

func constantFrame(value int16) []int16 {
	samples := make([]int16, 320)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func testVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,
		MinSpeechFrames: 1,
		FrameSize:       320,
	}
}

func TestVADDetector_SpeechStart(t *testing.T) {
	vad := NewVADDetector(testVADConfig())
	loud := constantFrame(5000)

	if ev := vad.ProcessFrame(loud); ev != VADSpeechStart {
		t.Errorf("Expected speech start on first loud frame, got %d", ev)
	}
	for i := 0; i < 5; i++ {
		if ev := vad.ProcessFrame(loud); ev != VADNone {
			t.Errorf("Expected no edge on frame %d, got %d", i, ev)
		}
	}
	if !vad.IsSpeaking() {
		t.Error("Expected detector to report speaking")
	}
}

func TestVADDetector_Silence(t *testing.T) {
	vad := NewVADDetector(testVADConfig())
	quiet := constantFrame(10)

	for i := 0; i < 15; i++ {
		if ev := vad.ProcessFrame(quiet); ev != VADNone {
			t.Errorf("Expected silence on frame %d, got %d", i, ev)
		}
	}
}

func TestVADDetector_SpeechToSilence(t *testing.T) {
	vad := NewVADDetector(testVADConfig())

	for i := 0; i < 5; i++ {
		vad.ProcessFrame(constantFrame(5000))
	}

	ended := -1
	for i := 0; i < 15; i++ {
		if vad.ProcessFrame(constantFrame(10)) == VADSpeechEnd {
			ended = i
			break
		}
	}

	// The tenth quiet frame ends speech
	if ended != 9 {
		t.Errorf("Expected speech end on quiet frame 9, got %d", ended)
	}
	if vad.IsSpeaking() {
		t.Error("Expected detector to stop speaking after the end edge")
	}
}

func TestVADDetector_MinSpeechFramesDebounce(t *testing.T) {
	cfg := testVADConfig()
	cfg.MinSpeechFrames = 3
	vad := NewVADDetector(cfg)
	loud := constantFrame(5000)

	// A single click does not start speech
	vad.ProcessFrame(loud)
	vad.ProcessFrame(constantFrame(10))
	if vad.IsSpeaking() {
		t.Fatal("Expected a one-frame burst to be ignored")
	}

	if vad.ProcessFrame(loud) != VADNone || vad.ProcessFrame(loud) != VADNone {
		t.Error("Expected no start before MinSpeechFrames")
	}
	if vad.ProcessFrame(loud) != VADSpeechStart {
		t.Error("Expected start on the third consecutive loud frame")
	}
}

func TestVADDetector_Reset(t *testing.T) {
	vad := NewVADDetector(testVADConfig())
	vad.ProcessFrame(constantFrame(5000))

	if !vad.IsSpeaking() {
		t.Fatal("Expected speech to be detected")
	}

	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("Expected speech state to be false after reset")
	}
}

func TestDefaultVADConfig(t *testing.T) {
	config := DefaultVADConfig()
	if config.EnergyThreshold != 500.0 {
		t.Errorf("Expected default EnergyThreshold 500.0, got %f", config.EnergyThreshold)
	}
	if config.FrameSize != 320 {
		t.Errorf("Expected default FrameSize 320, got %d", config.FrameSize)
	}
}

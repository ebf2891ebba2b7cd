package audio

// VADConfig holds configuration for the energy voice activity detector
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive quiet frames that end speech
	MinSpeechFrames int     // Consecutive loud frames that start speech
	FrameSize       int     // Samples per frame (320 = 20ms at 16kHz)
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   25, // 500ms at 20ms frames
		MinSpeechFrames: 3,
		FrameSize:       320,
	}
}

// VADEvent is the edge reported by ProcessFrame.
type VADEvent int

const (
	VADNone VADEvent = iota
	VADSpeechStart
	VADSpeechEnd
)

// VADDetector is a debounced RMS-gate voice activity detector.
type VADDetector struct {
	config         VADConfig
	loudCounter    int
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	cfg := *config
	if cfg.MinSpeechFrames < 1 {
		cfg.MinSpeechFrames = 1
	}
	if cfg.SilenceFrames < 1 {
		cfg.SilenceFrames = 1
	}
	return &VADDetector{config: cfg}
}

// ProcessFrame feeds one frame and reports a start or end edge, if any.
func (v *VADDetector) ProcessFrame(samples []int16) VADEvent {
	loud := CalculateRMS(samples) > v.config.EnergyThreshold

	if !v.isSpeaking {
		if !loud {
			v.loudCounter = 0
			return VADNone
		}
		v.loudCounter++
		if v.loudCounter < v.config.MinSpeechFrames {
			return VADNone
		}
		v.isSpeaking = true
		v.loudCounter = 0
		v.silenceCounter = 0
		return VADSpeechStart
	}

	if loud {
		v.silenceCounter = 0
		return VADNone
	}
	v.silenceCounter++
	if v.silenceCounter >= v.config.SilenceFrames {
		v.isSpeaking = false
		v.silenceCounter = 0
		return VADSpeechEnd
	}
	return VADNone
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.loudCounter = 0
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

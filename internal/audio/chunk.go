package audio

import "time"

// Format discriminates how a chunk's payload must be turned into samples.
type Format string

const (
	// FormatPCM16 is headerless 16-bit little-endian mono PCM.
	FormatPCM16 Format = "pcm16"
	// FormatContainer is an encoded container (mp3, wav) identified by Codec.
	FormatContainer Format = "encoded-container"
)

// Chunk is one unit of synthesized audio. Chunks are never mutated after
// creation; the producer hands ownership to the playback engine.
type Chunk struct {
	// Index is the arrival order within one synthesis session.
	Index int
	Format Format
	// Codec names the container for FormatContainer chunks ("mp3", "wav").
	Codec string
	Data  []byte
	// SampleRate applies to FormatPCM16 chunks.
	SampleRate int
	// Progressive chunks are appended to a single growing stream instead of
	// being queued as independent units.
	Progressive bool
}

// PCM is decoded mono audio normalised to [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
}

// Duration is the playing time of the samples.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.Samples)) * time.Second / time.Duration(p.SampleRate)
}

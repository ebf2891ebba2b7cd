package audio

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecodeWAV(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 0.25}
	wav := EncodeWAV(samples, 16000)

	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("Expected RIFF/WAVE header")
	}
	if len(wav) != 44+len(samples)*2 {
		t.Errorf("Expected %d bytes, got %d", 44+len(samples)*2, len(wav))
	}

	pcm, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if pcm.SampleRate != 16000 {
		t.Errorf("Expected 16000 Hz, got %d", pcm.SampleRate)
	}
	for i := range samples {
		if pcm.Samples[i] != samples[i] {
			t.Errorf("Sample %d: expected %f, got %f", i, samples[i], pcm.Samples[i])
		}
	}
}

func TestDecodeWAV_Stereo(t *testing.T) {
	pcm := Float32ToPCM16([]float32{0.5, 0, -0.5, -0.5})
	wav := WrapPCMAsWAV(pcm, 8000, 2, 16)

	out, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if len(out.Samples) != 2 || out.Samples[0] != 0.25 || out.Samples[1] != -0.5 {
		t.Errorf("Unexpected downmixed samples: %v", out.Samples)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	if _, err := DecodeWAV([]byte("not a wav file at all")); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Expected ErrInvalidFormat, got %v", err)
	}
}

func TestDecode_PCMChunk(t *testing.T) {
	pcm, err := Decode(Chunk{Format: FormatPCM16, Data: []byte{0x00, 0x40}, SampleRate: 24000})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pcm.SampleRate != 24000 || len(pcm.Samples) != 1 || pcm.Samples[0] != 0.5 {
		t.Errorf("Unexpected decode result: %+v", pcm)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		chunk Chunk
	}{
		{"empty", Chunk{Format: FormatPCM16, SampleRate: 24000}},
		{"pcm without rate", Chunk{Format: FormatPCM16, Data: []byte{0, 0}}},
		{"unknown codec", Chunk{Format: FormatContainer, Codec: "ogg", Data: []byte{1}}},
		{"garbage mp3", Chunk{Format: FormatContainer, Codec: CodecMP3, Data: []byte{1, 2, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.chunk); !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("Expected ErrInvalidFormat, got %v", err)
			}
		})
	}
}

func TestStreamDecoder_WAVFromStreamBuffer(t *testing.T) {
	wav := EncodeWAV([]float32{0.5, 0.5, 0.5, -0.5}, 22050)
	buf := NewStreamBuffer()

	// Deliver the header and body in awkward pieces
	buf.Append(wav[:10])
	buf.Append(wav[10:45])
	buf.Append(wav[45:])
	buf.Close()

	dec, err := NewStreamDecoder(CodecWAV, buf, 0)
	if err != nil {
		t.Fatalf("NewStreamDecoder failed: %v", err)
	}
	if dec.SampleRate() != 22050 {
		t.Errorf("Expected 22050 Hz, got %d", dec.SampleRate())
	}

	var got []float32
	dst := make([]float32, 3)
	for {
		n, err := dec.Read(dst)
		got = append(got, dst[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
	}
	if len(got) != 4 || got[3] != -0.5 {
		t.Errorf("Unexpected samples: %v", got)
	}
}

func TestStreamDecoder_PCM(t *testing.T) {
	dec, err := NewStreamDecoder(CodecPCM, bytes.NewReader([]byte{0x00, 0x40, 0x00, 0xc0}), 24000)
	if err != nil {
		t.Fatalf("NewStreamDecoder failed: %v", err)
	}

	dst := make([]float32, 8)
	n, err := dec.Read(dst)
	if err != nil || n != 2 || dst[0] != 0.5 || dst[1] != -0.5 {
		t.Errorf("Unexpected read: n=%d err=%v dst=%v", n, err, dst[:n])
	}
	if _, err := dec.Read(dst); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

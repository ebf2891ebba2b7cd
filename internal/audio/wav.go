package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// ErrInvalidFormat is returned for audio payloads that cannot be parsed.
var ErrInvalidFormat = errors.New("unsupported audio format")

// EncodeWAV wraps samples as a 16-bit mono PCM WAV file.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	return WrapPCMAsWAV(Float32ToPCM16(samples), sampleRate, 1, 16)
}

// WrapPCMAsWAV prefixes raw little-endian PCM with a canonical 44-byte header.
func WrapPCMAsWAV(pcmData []byte, sampleRate, channels, bitsPerSample int) []byte {
	dataSize := len(pcmData)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	wav := make([]byte, wavHeaderSize+dataSize)

	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+dataSize))
	copy(wav[8:12], "WAVE")

	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(wav[20:22], 1)  // AudioFormat 1 = PCM
	binary.LittleEndian.PutUint16(wav[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(wav[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(wav[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(wav[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(wav[34:36], uint16(bitsPerSample))

	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(dataSize))
	copy(wav[44:], pcmData)

	return wav
}

type wavFormat struct {
	channels   int
	sampleRate int
}

// readWAVHeader consumes RIFF chunks up to the start of the data chunk.
func readWAVHeader(r io.Reader) (wavFormat, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return wavFormat{}, fmt.Errorf("%w: short RIFF header: %v", ErrInvalidFormat, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return wavFormat{}, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrInvalidFormat)
	}

	var format wavFormat
	haveFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return wavFormat{}, fmt.Errorf("%w: missing data chunk: %v", ErrInvalidFormat, err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return wavFormat{}, fmt.Errorf("%w: fmt chunk too small", ErrInvalidFormat)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return wavFormat{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if audioFormat != 1 || bits != 16 {
				return wavFormat{}, fmt.Errorf("%w: only 16-bit PCM WAV is supported", ErrInvalidFormat)
			}
			format.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			format.sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			if format.channels < 1 || format.channels > 2 {
				return wavFormat{}, fmt.Errorf("%w: %d channels", ErrInvalidFormat, format.channels)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return wavFormat{}, fmt.Errorf("%w: data chunk before fmt", ErrInvalidFormat)
			}
			return format, nil

		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return wavFormat{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
			}
		}
	}
}

// DecodeWAV parses a complete 16-bit PCM WAV file into mono samples.
func DecodeWAV(data []byte) (PCM, error) {
	r := &byteReader{data: data}
	format, err := readWAVHeader(r)
	if err != nil {
		return PCM{}, err
	}

	samples := PCM16ToFloat32(data[r.off:])
	if format.channels == 2 {
		samples = DownmixStereo(samples)
	}
	return PCM{Samples: samples, SampleRate: format.sampleRate}, nil
}

type byteReader struct {
	data []byte
	off  int
}

func (b *byteReader) Read(p []byte) (int, error) {
	if b.off >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.off:])
	b.off += n
	return n, nil
}

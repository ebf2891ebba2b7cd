package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// Codecs understood by Decode and NewStreamDecoder.
const (
	CodecPCM = "pcm"
	CodecMP3 = "mp3"
	CodecWAV = "wav"
)

// Decode turns one complete chunk into mono samples.
func Decode(chunk Chunk) (PCM, error) {
	if len(chunk.Data) == 0 {
		return PCM{}, fmt.Errorf("%w: empty chunk", ErrInvalidFormat)
	}

	switch chunk.Format {
	case FormatPCM16:
		if chunk.SampleRate <= 0 {
			return PCM{}, fmt.Errorf("%w: pcm chunk without sample rate", ErrInvalidFormat)
		}
		return PCM{Samples: PCM16ToFloat32(chunk.Data), SampleRate: chunk.SampleRate}, nil

	case FormatContainer:
		switch chunk.Codec {
		case CodecWAV:
			return DecodeWAV(chunk.Data)
		case CodecMP3:
			return decodeMP3(chunk.Data)
		}
		return PCM{}, fmt.Errorf("%w: codec %q", ErrInvalidFormat, chunk.Codec)
	}

	return PCM{}, fmt.Errorf("%w: format %q", ErrInvalidFormat, chunk.Format)
}

func decodeMP3(data []byte) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("%w: mp3: %v", ErrInvalidFormat, err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("%w: mp3: %v", ErrInvalidFormat, err)
	}
	// go-mp3 always produces 16-bit stereo
	return PCM{Samples: DownmixStereo(PCM16ToFloat32(raw)), SampleRate: dec.SampleRate()}, nil
}

// StreamDecoder yields mono samples from an encoded stream that may still
// be growing.
type StreamDecoder interface {
	SampleRate() int
	// Read fills dst with up to len(dst) samples. It returns io.EOF once the
	// stream has ended and every sample has been delivered.
	Read(dst []float32) (int, error)
}

// NewStreamDecoder wraps r for the given codec. For container codecs the
// header is parsed here, so the call blocks until enough data has arrived.
func NewStreamDecoder(codec string, r io.Reader, pcmSampleRate int) (StreamDecoder, error) {
	switch codec {
	case CodecPCM:
		return &pcmStream{r: r, rate: pcmSampleRate, channels: 1}, nil

	case CodecWAV:
		format, err := readWAVHeader(r)
		if err != nil {
			return nil, err
		}
		return &pcmStream{r: r, rate: format.sampleRate, channels: format.channels}, nil

	case CodecMP3:
		dec, err := mp3.NewDecoder(r)
		if err != nil {
			if errors.Is(err, ErrStreamAborted) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: mp3: %v", ErrInvalidFormat, err)
		}
		return &pcmStream{r: dec, rate: dec.SampleRate(), channels: 2}, nil
	}

	return nil, fmt.Errorf("%w: codec %q", ErrInvalidFormat, codec)
}

// pcmStream reads interleaved 16-bit PCM and downmixes to mono.
type pcmStream struct {
	r        io.Reader
	rate     int
	channels int
	buf      []byte
	pending  []byte
}

func (s *pcmStream) SampleRate() int {
	return s.rate
}

func (s *pcmStream) Read(dst []float32) (int, error) {
	frameBytes := 2 * s.channels
	want := len(dst) * frameBytes
	if cap(s.buf) < want {
		s.buf = make([]byte, want)
	}
	buf := s.buf[:want]

	n := copy(buf, s.pending)
	s.pending = s.pending[:0]

	var readErr error
	for n < frameBytes {
		m, err := s.r.Read(buf[n:])
		n += m
		if err != nil {
			readErr = err
			break
		}
	}

	frames := n / frameBytes
	if rem := n % frameBytes; rem > 0 {
		s.pending = append(s.pending, buf[frames*frameBytes:n]...)
	}

	samples := PCM16ToFloat32(buf[:frames*frameBytes])
	if s.channels == 2 {
		samples = DownmixStereo(samples)
	}
	copy(dst, samples)

	if frames == 0 && readErr != nil {
		return 0, readErr
	}
	return frames, nil
}

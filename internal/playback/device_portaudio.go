//go:build portaudio

package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/lexiqai/voice-client/internal/audio"
)

const portAudioFramesPerBuffer = 960

var paInit sync.Once

// PortAudioAvailable reports whether the binary was built with speaker
// support.
const PortAudioAvailable = true

// InitPortAudio initialises the PortAudio library once per process. The
// returned func terminates it.
func InitPortAudio() (func(), error) {
	var err error
	paInit.Do(func() {
		err = portaudio.Initialize()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return func() { _ = portaudio.Terminate() }, nil
}

// PortAudioDevice plays through the default output device.
type PortAudioDevice struct {
	stream     *portaudio.Stream
	out        []int16
	outputRate int
}

// NewPortAudioDevice opens and starts a default output stream. InitPortAudio
// must have been called.
func NewPortAudioDevice(outputRate int) (Device, error) {
	out := make([]int16, portAudioFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(outputRate), len(out), out)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}
	return &PortAudioDevice{stream: stream, out: out, outputRate: outputRate}, nil
}

func (d *PortAudioDevice) Play(ctx context.Context, samples []float32, sampleRate int) error {
	pcm := audio.BytesToInt16(audio.Float32ToPCM16(audio.Resample(samples, sampleRate, d.outputRate)))
	for off := 0; off < len(pcm); off += len(d.out) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(d.out, pcm[off:])
		for i := n; i < len(d.out); i++ {
			d.out[i] = 0
		}
		if err := d.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to output stream: %w", err)
		}
	}
	return nil
}

func (d *PortAudioDevice) Close() error {
	if err := d.stream.Stop(); err != nil {
		d.stream.Close()
		return err
	}
	return d.stream.Close()
}

package playback

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/lexiqai/voice-client/internal/audio"
)

// Device renders mono samples. Play blocks until the samples have been
// handed to the output or ctx is cancelled. A device is only ever used from
// the engine's worker goroutine.
type Device interface {
	Play(ctx context.Context, samples []float32, sampleRate int) error
	Close() error
}

// DeviceFactory builds a fresh output graph. The engine calls it lazily
// after every reset.
type DeviceFactory func() (Device, error)

const blockDuration = 20 * time.Millisecond

// WriterDevice writes 16-bit PCM at a fixed output rate to an io.Writer,
// optionally paced to real time.
type WriterDevice struct {
	w          io.Writer
	outputRate int
	realtime   bool
}

func NewWriterDevice(w io.Writer, outputRate int, realtime bool) *WriterDevice {
	return &WriterDevice{w: w, outputRate: outputRate, realtime: realtime}
}

// NewDiscardDevice drops the audio but still honours pacing, so turn timing
// stays realistic when no output is configured.
func NewDiscardDevice(outputRate int, realtime bool) *WriterDevice {
	return NewWriterDevice(io.Discard, outputRate, realtime)
}

func (d *WriterDevice) Play(ctx context.Context, samples []float32, sampleRate int) error {
	samples = audio.Resample(samples, sampleRate, d.outputRate)
	block := int(blockDuration.Seconds() * float64(d.outputRate))
	if block <= 0 {
		block = len(samples)
	}

	var timer *time.Timer
	for off := 0; off < len(samples); off += block {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + block
		if end > len(samples) {
			end = len(samples)
		}
		if _, err := d.w.Write(audio.Float32ToPCM16(samples[off:end])); err != nil {
			return fmt.Errorf("failed to write audio: %w", err)
		}

		if !d.realtime {
			continue
		}
		wait := time.Duration(end-off) * time.Second / time.Duration(d.outputRate)
		if timer == nil {
			timer = time.NewTimer(wait)
			defer timer.Stop()
		} else {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Close leaves the underlying writer open; it outlives the device.
func (d *WriterDevice) Close() error {
	return nil
}

// WAVFile is a mono 16-bit WAV file whose header sizes are patched on
// Close. Writes are safe for concurrent use.
type WAVFile struct {
	mu   sync.Mutex
	f    *os.File
	size int
}

func CreateWAVFile(path string, sampleRate int) (*WAVFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	if _, err := f.Write(audio.WrapPCMAsWAV(nil, sampleRate, 1, 16)); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return &WAVFile{f: f}, nil
}

func (w *WAVFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.f.Write(p)
	w.size += n
	return n, err
}

// Close writes the final RIFF and data sizes and closes the file.
func (w *WAVFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(36+w.size))
	if _, err := w.f.WriteAt(size[:], 4); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to patch WAV header: %w", err)
	}
	binary.LittleEndian.PutUint32(size[:], uint32(w.size))
	if _, err := w.f.WriteAt(size[:], 40); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to patch WAV header: %w", err)
	}
	return w.f.Close()
}

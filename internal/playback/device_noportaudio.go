//go:build !portaudio

package playback

import "errors"

// PortAudioAvailable reports whether the binary was built with speaker
// support.
const PortAudioAvailable = false

var errNoPortAudio = errors.New("speaker output requires building with -tags portaudio")

func InitPortAudio() (func(), error) {
	return nil, errNoPortAudio
}

func NewPortAudioDevice(outputRate int) (Device, error) {
	return nil, errNoPortAudio
}

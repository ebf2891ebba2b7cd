// Package synthesis is the client side of the realtime speech-synthesis
// WebSocket protocol.
package synthesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConnectionFailed = errors.New("synthesis connection failed")
	ErrHandshakeTimeout = errors.New("synthesis handshake timed out")
	ErrStreamError      = errors.New("synthesis stream error")
	ErrSessionClosed    = errors.New("synthesis session closed")
)

// Inbound control message kinds.
const (
	MsgSuccessfulConnection     = "successful-connection"
	MsgSuccessfulAuthentication = "successful-authentication"
	MsgProcessingRequest        = "processing-request"
	MsgStartedByteStream        = "started-byte-stream"
	MsgFinishedByteStream       = "finished-byte-stream"
	MsgConnectionTimeout        = "connection-timeout"
)

var knownKinds = map[string]bool{
	MsgSuccessfulConnection:     true,
	MsgSuccessfulAuthentication: true,
	MsgProcessingRequest:        true,
	MsgStartedByteStream:        true,
	MsgFinishedByteStream:       true,
	MsgConnectionTimeout:        true,
}

type controlMessage struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Kind returns the discriminator. Some server builds put it in status
// instead of type.
func (m controlMessage) Kind() string {
	if knownKinds[m.Type] {
		return m.Type
	}
	if knownKinds[m.Status] {
		return m.Status
	}
	if m.Type != "" {
		return m.Type
	}
	return m.Status
}

func (m controlMessage) detail() string {
	return strings.TrimSpace(m.Error + " " + m.Message)
}

func parseControl(data []byte) (controlMessage, error) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: malformed control message: %v", ErrStreamError, err)
	}
	if msg.Kind() == "" {
		return msg, fmt.Errorf("%w: control message without type", ErrStreamError)
	}
	return msg, nil
}

// isFatal reports whether an error text describes a connection-level
// failure that must close the session.
func isFatal(text string) bool {
	text = strings.ToLower(text)
	return strings.Contains(text, "fatal") || strings.Contains(text, "connection")
}

type authMessage struct {
	Token    string `json:"token"`
	Strategy string `json:"strategy"`
}

type queryMessage struct {
	Query         string `json:"query"`
	Normalization string `json:"normalization"`
	Language      string `json:"language"`
	AudioFormat   string `json:"audio_format"`
	AudioQuality  int    `json:"audio_quality"`
	AudioSpeed    string `json:"audio_speed"`
	SpeakerID     string `json:"speaker_id"`
	Model         string `json:"model,omitempty"`
}

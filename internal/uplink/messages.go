package uplink

import "github.com/nerrad567/gray-logic-camera/internal/camera"

// Hello is the first message sent on every connection.
type Hello struct {
	Type        string             `json:"type"`
	Version     int                `json:"version"`
	Transport   string             `json:"transport"`
	AudioParams camera.AudioParams `json:"audio_params"`
}

// NewHello returns the handshake for the given protocol version.
func NewHello(version int) Hello {
	return Hello{
		Type:        "hello",
		Version:     version,
		Transport:   camera.EnvelopeTransport,
		AudioParams: camera.DefaultAudioParams(),
	}
}

// inbound is the part of a server message the client inspects.
type inbound struct {
	Type  string `json:"type"`
	State string `json:"state,omitempty"`
}

package camera

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Envelope constants for the VL message.
const (
	EnvelopeType      = "VL"
	EnvelopeVersion   = 1
	EnvelopeTransport = "websocket"
)

// AudioParams describes the audio stream the receiving side expects.
// The values are fixed for this protocol version.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// DefaultAudioParams returns the audio parameters carried by every envelope.
func DefaultAudioParams() AudioParams {
	return AudioParams{
		Format:        "opus",
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 60,
	}
}

// Envelope is the transport message carrying one base64 JPEG frame.
// Field order matches the wire format.
type Envelope struct {
	Type        string      `json:"type"`
	Msg         string      `json:"msg"`
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	AudioParams AudioParams `json:"audio_params"`
}

// NewEnvelope wraps JPEG bytes in a VL envelope.
func NewEnvelope(jpeg []byte) Envelope {
	return Envelope{
		Type:        EnvelopeType,
		Msg:         base64.StdEncoding.EncodeToString(jpeg),
		Version:     EnvelopeVersion,
		Transport:   EnvelopeTransport,
		AudioParams: DefaultAudioParams(),
	}
}

// JPEG decodes the envelope payload.
func (e Envelope) JPEG() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.Msg)
}

// Snapshot is one captured, encoded frame.
type Snapshot struct {
	Envelope   Envelope  `json:"envelope"`
	JPEG       []byte    `json:"-"`
	CapturedAt time.Time `json:"captured_at"`
}

// JSON returns the serialised envelope.
func (s *Snapshot) JSON() ([]byte, error) {
	return json.Marshal(s.Envelope)
}

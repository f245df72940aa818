package realtime

import (
	"encoding/json"

	"github.com/bt-bridge/realtime-voice/shared"
)

type SessionState int

const (
	SessionStateConnecting SessionState = iota
	SessionStateOpen
	SessionStateClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateConnecting:
		return "connecting"
	case SessionStateOpen:
		return "open"
	case SessionStateClosed:
		return "closed"
	}
	return "unknown"
}

type TransportKind string

const (
	TransportWebRTC    TransportKind = shared.TransportWebRTC
	TransportWebSocket TransportKind = shared.TransportWebSocket
)

type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type AudioRawParams struct {
	SampleRate int `json:"sample_rate"`
}

type AudioFormat struct {
	Type      string          `json:"type"`
	RawParams *AudioRawParams `json:"raw_params,omitempty"`
}

func PCM16(sampleRate int) *AudioFormat {
	return &AudioFormat{Type: "pcm16", RawParams: &AudioRawParams{SampleRate: sampleRate}}
}

// SessionConfig is the body of session.update. TurnDetection is sent raw so
// that an explicit null (manual turns) survives encoding.
type SessionConfig struct {
	Modalities        []string         `json:"modalities,omitempty"`
	Instructions      string           `json:"instructions,omitempty"`
	Tools             []ToolDefinition `json:"tools,omitempty"`
	ToolChoice        string           `json:"tool_choice,omitempty"`
	Voice             string           `json:"voice,omitempty"`
	Language          string           `json:"language,omitempty"`
	TurnDetection     json.RawMessage  `json:"turn_detection,omitempty"`
	InputAudioFormat  *AudioFormat     `json:"input_audio_format,omitempty"`
	OutputAudioFormat *AudioFormat     `json:"output_audio_format,omitempty"`
}

var (
	TurnDetectionDisabled  = json.RawMessage(`null`)
	TurnDetectionServerVAD = json.RawMessage(`{"type":"server_vad"}`)
)

// NewSessionConfig builds the session.update body for the given transport.
// The socket variant disables server VAD since turns are pushed manually, and
// declares PCM16 formats. The peer-to-peer variant leaves formats to SDP.
func NewSessionConfig(assistant shared.AssistantConfig, client shared.ClientConfig, kind TransportKind) SessionConfig {
	cfg := SessionConfig{
		Instructions: assistant.Instructions,
		Tools:        []ToolDefinition{PhoneNumberTool()},
		ToolChoice:   assistant.ToolChoice,
		Voice:        assistant.Voice,
		Language:     assistant.Language,
	}
	switch kind {
	case TransportWebSocket:
		cfg.TurnDetection = TurnDetectionDisabled
		cfg.InputAudioFormat = PCM16(client.InputSampleRate)
		cfg.OutputAudioFormat = PCM16(client.OutputSampleRate)
	case TransportWebRTC:
		cfg.TurnDetection = TurnDetectionServerVAD
	}
	return cfg
}

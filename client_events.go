package realtime

import (
	"encoding/base64"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// ClientEvent is anything the client sends to the realtime endpoint.
type ClientEvent interface {
	ClientEventType() ClientEventType
}

func newEventId() string {
	return "evt_" + uuid.NewString()
}

// EncodeClientEvent renders ev as one wire message.
func EncodeClientEvent(ev ClientEvent) ([]byte, error) {
	return sonic.Marshal(ev)
}

type SessionUpdateEvent struct {
	EventId string          `json:"event_id,omitempty"`
	Type    ClientEventType `json:"type"`
	Session SessionConfig   `json:"session"`
}

func (e *SessionUpdateEvent) ClientEventType() ClientEventType { return e.Type }

func NewSessionUpdate(cfg SessionConfig) *SessionUpdateEvent {
	return &SessionUpdateEvent{
		EventId: newEventId(),
		Type:    ClientEventTypeSessionUpdate,
		Session: cfg,
	}
}

// InputAudioBufferEvent covers clear, commit and append. Audio is set only for
// append.
type InputAudioBufferEvent struct {
	EventId string          `json:"event_id,omitempty"`
	Type    ClientEventType `json:"type"`
	Audio   string          `json:"audio,omitempty"`
}

func (e *InputAudioBufferEvent) ClientEventType() ClientEventType { return e.Type }

func NewInputAudioBufferClear() *InputAudioBufferEvent {
	return &InputAudioBufferEvent{EventId: newEventId(), Type: ClientEventTypeInputAudioBufferClear}
}

func NewInputAudioBufferCommit() *InputAudioBufferEvent {
	return &InputAudioBufferEvent{EventId: newEventId(), Type: ClientEventTypeInputAudioBufferCommit}
}

// NewInputAudioBufferAppend base64-encodes one PCM16 chunk.
func NewInputAudioBufferAppend(pcm []byte) *InputAudioBufferEvent {
	return &InputAudioBufferEvent{
		EventId: newEventId(),
		Type:    ClientEventTypeInputAudioBufferAppend,
		Audio:   base64.StdEncoding.EncodeToString(pcm),
	}
}

type ResponseOptions struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

type ResponseEvent struct {
	EventId  string           `json:"event_id,omitempty"`
	Type     ClientEventType  `json:"type"`
	Response *ResponseOptions `json:"response,omitempty"`
}

func (e *ResponseEvent) ClientEventType() ClientEventType { return e.Type }

func NewResponseCreate(opts *ResponseOptions) *ResponseEvent {
	return &ResponseEvent{EventId: newEventId(), Type: ClientEventTypeResponseCreate, Response: opts}
}

func NewResponseCancel() *ResponseEvent {
	return &ResponseEvent{EventId: newEventId(), Type: ClientEventTypeResponseCancel}
}

type ConversationItem struct {
	Type   string `json:"type"`
	CallId string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

type ConversationItemCreateEvent struct {
	EventId string           `json:"event_id,omitempty"`
	Type    ClientEventType  `json:"type"`
	Item    ConversationItem `json:"item"`
}

func (e *ConversationItemCreateEvent) ClientEventType() ClientEventType { return e.Type }

// NewFunctionCallOutput answers the function call identified by callID.
// output is the JSON document handed back to the model.
func NewFunctionCallOutput(callID, output string) *ConversationItemCreateEvent {
	return &ConversationItemCreateEvent{
		EventId: newEventId(),
		Type:    ClientEventTypeConversationItemCreate,
		Item: ConversationItem{
			Type:   "function_call_output",
			CallId: callID,
			Output: output,
		},
	}
}

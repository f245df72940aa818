package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types. Both the beta and the GA names are accepted for text
// and audio deltas.
const (
	ServerEventTypeError                              ServerEventType = "error"
	ServerEventTypeSessionCreated                     ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                     ServerEventType = "session.updated"
	ServerEventTypeInputAudioBufferSpeechStarted      ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped      ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeResponseCreated                    ServerEventType = "response.created"
	ServerEventTypeResponseDone                       ServerEventType = "response.done"
	ServerEventTypeResponseTextDelta                  ServerEventType = "response.text.delta"
	ServerEventTypeResponseOutputTextDelta            ServerEventType = "response.output_text.delta"
	ServerEventTypeResponseAudioDelta                 ServerEventType = "response.audio.delta"
	ServerEventTypeResponseOutputAudioDelta           ServerEventType = "response.output_audio.delta"
	ServerEventTypeResponseFunctionCallArgumentsDelta ServerEventType = "response.function_call_arguments.delta"
	ServerEventTypeResponseOutputItemAdded            ServerEventType = "response.output_item.added"
)

// Client event types
const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeInputAudioBufferAppend ClientEventType = "input_audio_buffer.append"
	ClientEventTypeInputAudioBufferCommit ClientEventType = "input_audio_buffer.commit"
	ClientEventTypeInputAudioBufferClear  ClientEventType = "input_audio_buffer.clear"
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
	ClientEventTypeResponseCancel         ClientEventType = "response.cancel"
)

// ErrUnknownEventType is returned when decoding a well-formed event whose type
// this client does not handle. The event's Type is still populated.
var ErrUnknownEventType = errors.New("unknown event type")

// ServerEvent is one inbound message. EventId is optional on the wire.
type ServerEvent struct {
	EventId string
	Type    ServerEventType
	Param   EventParam
}

func (e *ServerEvent) EventType() EventType {
	return EventType(e.Type)
}

func (e *ServerEvent) fields() (map[string]any, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	if e.Param == nil {
		return nil, errors.New("Param is nil")
	}
	resp := map[string]any{}
	for k, v := range e.Param.Json() {
		resp[k] = v
	}
	if e.EventId != "" {
		resp["event_id"] = e.EventId
	}
	resp["type"] = e.Type
	return resp, nil
}

func (e *ServerEvent) MarshalYAML() ([]byte, error) {
	resp, err := e.fields()
	if err != nil {
		return nil, err
	}
	return yaml.MarshalWithOptions(resp, yaml.UseJSONMarshaler())
}

func (e *ServerEvent) UnmarshalYAML(data []byte) error {
	var raw map[string]any
	if err := yaml.UnmarshalWithOptions(data, &raw, yaml.UseJSONUnmarshaler()); err != nil {
		return err
	}
	return e.fromMap(raw)
}

func (e *ServerEvent) MarshalJSON() ([]byte, error) {
	resp, err := e.fields()
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(resp)
}

func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	return e.fromMap(raw)
}

func (e *ServerEvent) fromMap(raw map[string]any) error {
	if raw == nil {
		return errors.New("event is not an object")
	}
	if v, ok := raw["event_id"].(string); ok {
		e.EventId = v
		delete(raw, "event_id")
	}
	if v, ok := raw["type"].(string); ok && v != "" {
		e.Type = ServerEventType(v)
		delete(raw, "type")
	} else {
		return errors.New("missing type")
	}
	param := newServerEventParam(e.Type)
	if param == nil {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, e.Type)
	}
	if err := param.New(raw); err != nil {
		return fmt.Errorf("decoding %s: %w", e.Type, err)
	}
	e.Param = param
	return nil
}

func newServerEventParam(t ServerEventType) EventParam {
	switch t {
	case ServerEventTypeError:
		return new(ServerEventParamError)
	case ServerEventTypeSessionCreated, ServerEventTypeSessionUpdated:
		return new(ServerEventParamSession)
	case ServerEventTypeInputAudioBufferSpeechStarted, ServerEventTypeInputAudioBufferSpeechStopped:
		return new(ServerEventParamSpeech)
	case ServerEventTypeResponseCreated, ServerEventTypeResponseDone:
		return new(ServerEventParamResponse)
	case ServerEventTypeResponseTextDelta, ServerEventTypeResponseOutputTextDelta:
		return new(ServerEventParamTextDelta)
	case ServerEventTypeResponseAudioDelta, ServerEventTypeResponseOutputAudioDelta:
		return new(ServerEventParamAudioDelta)
	case ServerEventTypeResponseFunctionCallArgumentsDelta:
		return new(ServerEventParamFunctionCallArgumentsDelta)
	case ServerEventTypeResponseOutputItemAdded:
		return new(ServerEventParamOutputItemAdded)
	}
	return nil
}

// DecodeServerEvent parses one wire message.
func DecodeServerEvent(data []byte) (*ServerEvent, error) {
	ev := new(ServerEvent)
	if err := ev.UnmarshalJSON(data); err != nil {
		return ev, err
	}
	return ev, nil
}

type EventParam interface {
	New(map[string]any) error
	Json() map[string]any
}

// Helpers for number conversions
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func asString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// error
type ServerEventParamError struct {
	Type    string
	Code    string
	Message string
	EventId string
	Param   any
}

func (p *ServerEventParamError) New(m map[string]any) error {
	errObj, ok := m["error"].(map[string]any)
	if !ok {
		// Some proxies flatten the error object.
		errObj = m
	}
	p.Type = asString(errObj, "type")
	p.Code = asString(errObj, "code")
	p.Message = asString(errObj, "message")
	p.EventId = asString(errObj, "event_id")
	p.Param = errObj["param"]
	if p.Message == "" && p.Code == "" {
		return errors.New("missing error.message")
	}
	return nil
}

func (p *ServerEventParamError) Json() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":     p.Type,
			"event_id": p.EventId,
			"code":     p.Code,
			"message":  p.Message,
			"param":    p.Param,
		},
	}
}

func (p *ServerEventParamError) Error() string {
	if p.Code == "" {
		return p.Message
	}
	return fmt.Sprintf("%s: %s", p.Code, p.Message)
}

// session.created, session.updated
type ServerEventParamSession struct {
	Session map[string]any
}

func (p *ServerEventParamSession) New(m map[string]any) error {
	if session, ok := m["session"].(map[string]any); ok {
		p.Session = session
	} else {
		return errors.New("missing session")
	}
	return nil
}

func (p *ServerEventParamSession) Json() map[string]any {
	return map[string]any{
		"session": p.Session,
	}
}

// input_audio_buffer.speech_started, input_audio_buffer.speech_stopped
type ServerEventParamSpeech struct {
	ItemId string
	// AudioMs is audio_start_ms or audio_end_ms depending on the event.
	AudioMs int
}

func (p *ServerEventParamSpeech) New(m map[string]any) error {
	p.ItemId = asString(m, "item_id")
	if v, ok := asInt(m["audio_start_ms"]); ok {
		p.AudioMs = v
	} else if v, ok := asInt(m["audio_end_ms"]); ok {
		p.AudioMs = v
	}
	return nil
}

func (p *ServerEventParamSpeech) Json() map[string]any {
	return map[string]any{
		"item_id":  p.ItemId,
		"audio_ms": p.AudioMs,
	}
}

// response.created, response.done
type ServerEventParamResponse struct {
	Response map[string]any
}

func (p *ServerEventParamResponse) New(m map[string]any) error {
	if v, ok := m["response"].(map[string]any); ok {
		p.Response = v
	}
	return nil
}

func (p *ServerEventParamResponse) Json() map[string]any {
	return map[string]any{
		"response": p.Response,
	}
}

func (p *ServerEventParamResponse) Id() string {
	return asString(p.Response, "id")
}

func (p *ServerEventParamResponse) Status() string {
	return asString(p.Response, "status")
}

// response.text.delta, response.output_text.delta. The delta is either a
// plain string or an object carrying a text field.
type ServerEventParamTextDelta struct {
	ResponseId string
	ItemId     string
	Delta      string
}

func (p *ServerEventParamTextDelta) New(m map[string]any) error {
	p.ResponseId = asString(m, "response_id")
	p.ItemId = asString(m, "item_id")
	switch d := m["delta"].(type) {
	case string:
		p.Delta = d
	case map[string]any:
		text, ok := d["text"].(string)
		if !ok {
			return errors.New("missing delta.text")
		}
		p.Delta = text
	default:
		return errors.New("missing delta")
	}
	return nil
}

func (p *ServerEventParamTextDelta) Json() map[string]any {
	return map[string]any{
		"response_id": p.ResponseId,
		"item_id":     p.ItemId,
		"delta":       p.Delta,
	}
}

// response.audio.delta, response.output_audio.delta. Delta is base64 PCM16.
type ServerEventParamAudioDelta struct {
	ResponseId string
	ItemId     string
	Delta      string
}

func (p *ServerEventParamAudioDelta) New(m map[string]any) error {
	p.ResponseId = asString(m, "response_id")
	p.ItemId = asString(m, "item_id")
	d, ok := m["delta"].(string)
	if !ok {
		return errors.New("missing delta")
	}
	p.Delta = d
	return nil
}

func (p *ServerEventParamAudioDelta) Json() map[string]any {
	return map[string]any{
		"response_id": p.ResponseId,
		"item_id":     p.ItemId,
		"delta":       p.Delta,
	}
}

// response.function_call_arguments.delta
type ServerEventParamFunctionCallArgumentsDelta struct {
	ResponseId string
	ItemId     string
	CallId     string
	Delta      string
}

func (p *ServerEventParamFunctionCallArgumentsDelta) New(m map[string]any) error {
	p.ResponseId = asString(m, "response_id")
	p.ItemId = asString(m, "item_id")
	p.CallId = asString(m, "call_id")
	p.Delta = asString(m, "delta")
	return nil
}

func (p *ServerEventParamFunctionCallArgumentsDelta) Json() map[string]any {
	return map[string]any{
		"response_id": p.ResponseId,
		"item_id":     p.ItemId,
		"call_id":     p.CallId,
		"delta":       p.Delta,
	}
}

type OutputItem struct {
	Id        string
	Type      string
	Status    string
	Name      string
	CallId    string
	Arguments string
}

// response.output_item.added. Older servers send the item under output_item.
type ServerEventParamOutputItemAdded struct {
	ResponseId  string
	OutputIndex int
	Item        OutputItem
}

func (p *ServerEventParamOutputItemAdded) New(m map[string]any) error {
	p.ResponseId = asString(m, "response_id")
	p.OutputIndex, _ = asInt(m["output_index"])
	item, ok := m["item"].(map[string]any)
	if !ok {
		item, ok = m["output_item"].(map[string]any)
	}
	if !ok {
		return errors.New("missing item")
	}
	p.Item = OutputItem{
		Id:        asString(item, "id"),
		Type:      asString(item, "type"),
		Status:    asString(item, "status"),
		Name:      asString(item, "name"),
		CallId:    asString(item, "call_id"),
		Arguments: asString(item, "arguments"),
	}
	return nil
}

func (p *ServerEventParamOutputItemAdded) Json() map[string]any {
	return map[string]any{
		"response_id":  p.ResponseId,
		"output_index": p.OutputIndex,
		"item": map[string]any{
			"id":        p.Item.Id,
			"type":      p.Item.Type,
			"status":    p.Item.Status,
			"name":      p.Item.Name,
			"call_id":   p.Item.CallId,
			"arguments": p.Item.Arguments,
		},
	}
}

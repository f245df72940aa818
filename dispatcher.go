package realtime

import (
	"encoding/base64"
	"errors"
	"sync"

	"github.com/bt-bridge/realtime-voice/shared"
	"go.uber.org/zap"
)

// Dispatcher routes inbound events of one session. Messages are handled one
// at a time in arrival order.
type Dispatcher struct {
	mu         sync.Mutex
	logger     shared.LoggerAdapter
	transcript *Transcript
	acc        *TextAccumulator
	queue      *PlaybackQueue
	tool       *ToolHandler
}

// NewDispatcher wires the session's components. queue may be nil when audio
// arrives on a media track instead of as events.
func NewDispatcher(logger shared.LoggerAdapter, transcript *Transcript, acc *TextAccumulator, queue *PlaybackQueue, tool *ToolHandler) *Dispatcher {
	return &Dispatcher{
		logger:     logger,
		transcript: transcript,
		acc:        acc,
		queue:      queue,
		tool:       tool,
	}
}

// Dispatch decodes and handles one wire message. Malformed messages are
// logged and dropped.
func (d *Dispatcher) Dispatch(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev, err := DecodeServerEvent(data)
	if err != nil {
		if errors.Is(err, ErrUnknownEventType) {
			d.logger.Debug("ignoring event", zap.String("type", string(ev.Type)))
			return
		}
		d.logger.Error("can not decode event", err, zap.ByteString("data", data))
		return
	}
	d.logger.Info("received event",
		zap.String("type", string(ev.Type)),
		zap.String("event_id", ev.EventId),
	)
	d.logger.Trace("event payload", zap.ByteString("data", data))
	d.handle(ev)
}

func (d *Dispatcher) handle(ev *ServerEvent) {
	switch p := ev.Param.(type) {
	case *ServerEventParamError:
		d.logger.Error("realtime API error", p, zap.String("type", p.Type), zap.String("code", p.Code))
		d.transcript.Add(RoleSystem, "Błąd: "+p.Message)
	case *ServerEventParamSession:
		d.logger.Debug("session state", zap.String("type", string(ev.Type)), zap.Any("session", p.Session))
	case *ServerEventParamSpeech:
		if ev.Type == ServerEventTypeInputAudioBufferSpeechStarted {
			d.transcript.SetStatus(StatusListening)
		} else {
			d.transcript.SetStatus(StatusProcessing)
		}
	case *ServerEventParamResponse:
		if ev.Type == ServerEventTypeResponseCreated {
			d.transcript.SetStatus(StatusSpeaking)
			return
		}
		d.logger.Debug("response finished", zap.String("response_id", p.Id()), zap.String("status", p.Status()))
		d.transcript.SetStatus(StatusReady)
		d.transcript.FinalizePending()
		d.acc.Reset()
	case *ServerEventParamTextDelta:
		d.transcript.UpsertPending(d.acc.Append(p.Delta))
	case *ServerEventParamAudioDelta:
		pcm, err := base64.StdEncoding.DecodeString(p.Delta)
		if err != nil {
			d.logger.Error("decoding audio delta", err, zap.String("item_id", p.ItemId))
			return
		}
		if d.queue == nil {
			d.logger.Debug("dropping audio delta without playback queue", zap.Int("bytes", len(pcm)))
			return
		}
		d.queue.Push(pcm)
	case *ServerEventParamFunctionCallArgumentsDelta:
		d.logger.Debug("function call arguments", zap.String("call_id", p.CallId), zap.String("delta", p.Delta))
	case *ServerEventParamOutputItemAdded:
		if p.Item.Type != "function_call" {
			return
		}
		if d.tool == nil {
			d.logger.Warn("function call without tool handler", zap.String("name", p.Item.Name))
			return
		}
		call := FunctionCall{
			CallId:    p.Item.CallId,
			Name:      p.Item.Name,
			Arguments: p.Item.Arguments,
		}
		if err := d.tool.Handle(call); err != nil {
			// Handle has logged the cause; the call stays unanswered.
			d.logger.Debug("function call not answered", zap.String("call_id", call.CallId))
		}
	}
}

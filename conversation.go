package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrPushToTalkUnsupported = errors.New("push-to-talk needs a microphone on the socket transport")

type ConversationOptions struct {
	Dialer      Dialer
	Session     SessionConfig
	SettleDelay time.Duration
	// ChunkBytes is the size of each input_audio_buffer.append payload.
	ChunkBytes int
	// Microphone enables push-to-talk turns. Leave nil when the microphone
	// rides on a media track.
	Microphone Microphone
	// Player enables the playback queue for audio deltas.
	Player   Player
	Language string
	// Devices are released exactly once when the conversation ends.
	Devices []io.Closer
}

// Conversation is one live session: a transport plus everything that reacts
// to its events.
type Conversation struct {
	id         string
	logger     shared.LoggerAdapter
	kind       TransportKind
	transcript *Transcript
	acc        *TextAccumulator
	queue      *PlaybackQueue
	dispatcher *Dispatcher
	turn       *TurnControl
	devices    []io.Closer

	mu        sync.Mutex
	transport Transport

	closeOnce sync.Once
	closed    chan struct{}
	err       error
}

var _ Sender = (*Conversation)(nil)

// OpenConversation dials, configures the session and starts watching the
// transport. On failure every resource in opts is released.
func OpenConversation(ctx context.Context, logger shared.LoggerAdapter, credential string, transcript *Transcript, opts ConversationOptions) (*Conversation, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if opts.Dialer == nil {
		closeAll(logger, opts.Devices)
		return nil, shared.ErrNoDialer
	}
	if transcript == nil {
		transcript = NewTranscript(nil)
	}
	id := uuid.NewString()
	c := &Conversation{
		id:         id,
		logger:     logger.With(zap.String("conversation", id)),
		kind:       opts.Dialer.Kind(),
		transcript: transcript,
		acc:        new(TextAccumulator),
		devices:    opts.Devices,
		closed:     make(chan struct{}),
	}
	if opts.Player != nil {
		c.queue = NewPlaybackQueue(c.logger.With(zap.String("component", "playback")), opts.Player)
	}
	tool := NewToolHandler(c.logger.With(zap.String("component", "tool")), c, opts.Language)
	c.dispatcher = NewDispatcher(c.logger.With(zap.String("component", "dispatcher")), transcript, c.acc, c.queue, tool)

	t, err := opts.Dialer.Dial(ctx, credential, c.dispatcher.Dispatch)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
	if opts.Microphone != nil {
		c.turn = NewTurnControl(c.logger.With(zap.String("component", "turn")), t, opts.Microphone, opts.ChunkBytes)
	}

	settle := opts.SettleDelay
	if settle == 0 {
		settle = DefaultSettleDelay
	}
	if err := Configure(ctx, t, opts.Session, settle); err != nil {
		c.Close()
		return nil, fmt.Errorf("configuring session: %w", err)
	}
	go c.watch(t)
	c.logger.Info("conversation open", zap.String("transport", string(c.kind)))
	return c, nil
}

func (c *Conversation) watch(t Transport) {
	select {
	case <-t.Done():
		c.end(t.Err())
	case <-c.closed:
	}
}

func (c *Conversation) Id() string { return c.id }

func (c *Conversation) Kind() TransportKind { return c.kind }

func (c *Conversation) Transcript() *Transcript { return c.transcript }

// Done is closed once the conversation has released everything.
func (c *Conversation) Done() <-chan struct{} { return c.closed }

// Err is the transport failure that ended the conversation, or nil when it
// was closed on request.
func (c *Conversation) Err() error {
	select {
	case <-c.closed:
		return c.err
	default:
		return nil
	}
}

func (c *Conversation) State() SessionState {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		select {
		case <-c.closed:
			return SessionStateClosed
		default:
			return SessionStateConnecting
		}
	}
	return t.State()
}

func (c *Conversation) Send(ev ClientEvent) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return shared.ErrTransportNotOpen
	}
	return t.Send(ev)
}

func (c *Conversation) PressToTalk() error {
	if c.turn == nil {
		return ErrPushToTalkUnsupported
	}
	if err := c.turn.Start(); err != nil {
		return err
	}
	c.transcript.SetStatus(StatusListening)
	return nil
}

// ReleaseToTalk ends the current turn. It is a no-op without one.
func (c *Conversation) ReleaseToTalk() error {
	if c.turn == nil || !c.turn.Active() {
		return nil
	}
	c.transcript.SetStatus(StatusProcessing)
	return c.turn.Stop()
}

func (c *Conversation) TurnActive() bool {
	return c.turn != nil && c.turn.Active()
}

// Close ends the conversation. It is safe to call from any goroutine and
// more than once.
func (c *Conversation) Close() {
	c.end(nil)
}

func (c *Conversation) end(err error) {
	c.closeOnce.Do(func() {
		if c.turn != nil {
			c.turn.Abort()
		}
		if c.queue != nil {
			c.queue.Close()
		}
		c.mu.Lock()
		t := c.transport
		c.mu.Unlock()
		if t != nil {
			if cerr := t.Close(); cerr != nil {
				c.logger.Error("closing transport", cerr)
			}
		}
		closeAll(c.logger, c.devices)
		// The transcript outlives the conversation; a reply cut short must
		// not be continued by the next session.
		c.transcript.FinalizePending()
		c.acc.Reset()
		c.err = err
		if err != nil {
			c.logger.Error("conversation ended", err)
		} else {
			c.logger.Info("conversation closed")
		}
		close(c.closed)
	})
}

func closeAll(logger shared.LoggerAdapter, closers []io.Closer) {
	for _, cl := range closers {
		if cl == nil {
			continue
		}
		if err := cl.Close(); err != nil {
			logger.Error("releasing device", err)
		}
	}
}

package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/realtime-voice/shared"
	"go.uber.org/zap"
)

// PrepareFunc acquires the per-session pieces: dialer, devices and session
// config. It runs after the credential has been obtained.
type PrepareFunc func(ctx context.Context) (ConversationOptions, error)

// Controller drives the user-facing lifecycle and owns at most one live
// Conversation.
type Controller struct {
	logger      shared.LoggerAdapter
	kind        TransportKind
	credentials CredentialSource
	prepare     PrepareFunc
	transcript  *Transcript

	mu       sync.Mutex
	conv     *Conversation
	starting bool
}

func NewController(logger shared.LoggerAdapter, kind TransportKind, credentials CredentialSource, prepare PrepareFunc, view View) (*Controller, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if credentials == nil {
		return nil, shared.ErrNoCredential
	}
	if prepare == nil {
		return nil, shared.ErrNoConfig
	}
	switch kind {
	case TransportWebRTC, TransportWebSocket:
	default:
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownTransport, kind)
	}
	c := &Controller{
		logger:      logger,
		kind:        kind,
		credentials: credentials,
		prepare:     prepare,
		transcript:  NewTranscript(view),
	}
	c.transcript.SetStatus(StatusReady)
	return c, nil
}

func (c *Controller) Transcript() *Transcript { return c.transcript }

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv != nil
}

func (c *Controller) current() *Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv
}

// Start opens a new conversation. Any failure is shown to the user and leaves
// the controller ready for another attempt.
func (c *Controller) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.conv != nil || c.starting {
		c.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	c.starting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		if err != nil {
			c.logger.Error("starting conversation", err)
			c.transcript.SetStatus(StatusError)
			c.transcript.Add(RoleSystem, fmt.Sprintf("Wystąpił błąd: %v. Spróbuj ponownie.", err))
		}
	}()

	c.transcript.SetStatus(StatusConnecting)
	c.transcript.Add(RoleSystem, "Łączenie z asystentem AI. To może zająć kilka sekund...")

	credential, err := c.credentials.Credential(ctx, c.kind)
	if err != nil {
		return fmt.Errorf("obtaining credential: %w", err)
	}
	opts, err := c.prepare(ctx)
	if err != nil {
		return fmt.Errorf("preparing session: %w", err)
	}
	conv, err := OpenConversation(ctx, c.logger, credential, c.transcript, opts)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conv = conv
	c.mu.Unlock()
	go c.watch(conv)

	c.transcript.SetStatus(StatusReady)
	if conv.turn != nil {
		c.transcript.Add(RoleAssistant, "Asystent jest gotowy do rozmowy. Przytrzymaj przycisk, aby mówić.")
	} else {
		c.transcript.Add(RoleAssistant, "Asystent jest gotowy do rozmowy. W czym mogę pomóc?")
	}
	return nil
}

// watch clears the conversation when it ends on its own.
func (c *Controller) watch(conv *Conversation) {
	<-conv.Done()
	c.mu.Lock()
	if c.conv != conv {
		// Stopped by the user.
		c.mu.Unlock()
		return
	}
	c.conv = nil
	c.mu.Unlock()

	err := conv.Err()
	if err == nil {
		c.transcript.SetStatus(StatusEnded)
		c.transcript.Add(RoleSystem, "Połączenie zostało zamknięte.")
		return
	}
	c.logger.Error("conversation ended unexpectedly", err, zap.String("conversation", conv.Id()))
	c.transcript.SetStatus(StatusError)
	var ace *AbnormalCloseError
	if errors.As(err, &ace) {
		c.transcript.Add(RoleSystem, fmt.Sprintf("Połączenie z asystentem zostało przerwane (kod: %d). Spróbuj ponownie.", ace.Code))
		return
	}
	c.transcript.Add(RoleSystem, fmt.Sprintf("Wystąpił błąd: %v. Spróbuj ponownie.", err))
}

// Stop ends the live conversation.
func (c *Controller) Stop() error {
	c.mu.Lock()
	conv := c.conv
	c.conv = nil
	c.mu.Unlock()
	if conv == nil {
		return shared.ErrNoActiveSession
	}
	conv.Close()
	c.transcript.SetStatus(StatusEnded)
	c.transcript.Add(RoleSystem, "Rozmowa została zakończona. Możesz rozpocząć nową.")
	return nil
}

func (c *Controller) PressToTalk() error {
	conv := c.current()
	if conv == nil {
		return shared.ErrNoActiveSession
	}
	return conv.PressToTalk()
}

func (c *Controller) ReleaseToTalk() error {
	conv := c.current()
	if conv == nil {
		return nil
	}
	return conv.ReleaseToTalk()
}

// ToggleTalk presses when idle and releases when a turn is active. Terminals
// have no key-up event, so the CLI uses this.
func (c *Controller) ToggleTalk() error {
	conv := c.current()
	if conv == nil {
		return shared.ErrNoActiveSession
	}
	if conv.TurnActive() {
		return conv.ReleaseToTalk()
	}
	return conv.PressToTalk()
}

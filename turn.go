package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bt-bridge/realtime-voice/shared"
	"go.uber.org/zap"
)

// Microphone yields PCM16 audio between Start and Stop. After Stop, Read
// returns what is left and then io.EOF.
type Microphone interface {
	Start() error
	Stop() error
	Read(p []byte) (int, error)
}

// TurnControl implements push-to-talk on the socket transport: audio is
// appended while the user holds the button and committed on release.
type TurnControl struct {
	logger     shared.LoggerAdapter
	transport  Transport
	mic        Microphone
	chunkBytes int

	op sync.Mutex

	mu        sync.Mutex
	capturing bool
	cancel    context.CancelFunc
	pumpDone  chan struct{}
}

func NewTurnControl(logger shared.LoggerAdapter, transport Transport, mic Microphone, chunkBytes int) *TurnControl {
	return &TurnControl{
		logger:     logger,
		transport:  transport,
		mic:        mic,
		chunkBytes: chunkBytes,
	}
}

func (tc *TurnControl) Active() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.capturing
}

// Start clears the remote input buffer and begins streaming microphone
// chunks. It fails when the session is not open. Starting an active turn
// does nothing.
func (tc *TurnControl) Start() error {
	tc.op.Lock()
	defer tc.op.Unlock()
	if tc.Active() {
		tc.logger.Debug("turn already active")
		return nil
	}
	if tc.transport.State() != SessionStateOpen {
		return shared.ErrTransportNotOpen
	}
	if err := tc.transport.Send(NewInputAudioBufferClear()); err != nil {
		return fmt.Errorf("clearing input buffer: %w", err)
	}
	if err := tc.mic.Start(); err != nil {
		return fmt.Errorf("starting microphone: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	tc.mu.Lock()
	tc.capturing = true
	tc.cancel = cancel
	tc.pumpDone = done
	tc.mu.Unlock()
	go tc.pump(ctx, done)
	tc.logger.Debug("turn started")
	return nil
}

func (tc *TurnControl) pump(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, tc.chunkBytes)
	for {
		n, err := io.ReadFull(tc.mic, buf)
		if n > 0 && ctx.Err() == nil {
			if serr := tc.transport.Send(NewInputAudioBufferAppend(buf[:n])); serr != nil {
				tc.logger.Error("appending audio", serr, zap.Int("bytes", n))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				tc.logger.Error("reading microphone", err)
			}
			return
		}
	}
}

// halt ends capture and waits for the pump. Audio already captured is still
// sent unless discard is set.
func (tc *TurnControl) halt(discard bool) bool {
	tc.mu.Lock()
	if !tc.capturing {
		tc.mu.Unlock()
		return false
	}
	tc.capturing = false
	cancel, done := tc.cancel, tc.pumpDone
	tc.mu.Unlock()

	if discard {
		cancel()
	}
	if err := tc.mic.Stop(); err != nil {
		tc.logger.Error("stopping microphone", err)
	}
	<-done
	cancel()
	return true
}

// Stop ends the turn and asks for a response: commit, then response.create.
// Without an active turn it does nothing.
func (tc *TurnControl) Stop() error {
	tc.op.Lock()
	defer tc.op.Unlock()
	if !tc.halt(false) {
		return nil
	}
	tc.logger.Debug("turn stopped")
	if tc.transport.State() != SessionStateOpen {
		return nil
	}
	// Not retried: a lost commit leaves the turn unanswered and the user
	// can speak again.
	if err := tc.transport.Send(NewInputAudioBufferCommit()); err != nil {
		tc.logger.Error("committing input buffer", err)
		return fmt.Errorf("committing input buffer: %w", err)
	}
	if err := tc.transport.Send(NewResponseCreate(nil)); err != nil {
		tc.logger.Error("requesting response", err)
		return fmt.Errorf("requesting response: %w", err)
	}
	return nil
}

// Abort ends the turn without sending anything.
func (tc *TurnControl) Abort() {
	tc.op.Lock()
	defer tc.op.Unlock()
	if tc.halt(true) {
		tc.logger.Debug("turn aborted")
	}
}

package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
)

const DefaultSettleDelay = 500 * time.Millisecond

// Configure sends one session.update once t is open, then waits settle
// before returning. The delay stands in for an acknowledgement.
func Configure(ctx context.Context, t Transport, cfg SessionConfig, settle time.Duration) error {
	select {
	case <-t.Opened():
	case <-t.Done():
		if err := t.Err(); err != nil {
			return fmt.Errorf("transport ended before open: %w", err)
		}
		return shared.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := t.Send(NewSessionUpdate(cfg)); err != nil {
		return fmt.Errorf("sending session.update: %w", err)
	}
	if settle <= 0 {
		return nil
	}
	timer := time.NewTimer(settle)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-t.Done():
		if err := t.Err(); err != nil {
			return fmt.Errorf("transport ended while configuring: %w", err)
		}
		return shared.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

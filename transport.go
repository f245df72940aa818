package realtime

import (
	"context"
	"fmt"
)

// MessageHandler receives every inbound control message in arrival order.
type MessageHandler func(data []byte)

// Transport is an authenticated channel to the realtime endpoint.
//
// Opened is closed once the control channel can carry messages. Done is
// closed when the transport ends for any reason; Err then reports why, or nil
// after a normal close. Send is safe for concurrent use and preserves call
// order.
type Transport interface {
	Send(ev ClientEvent) error
	Opened() <-chan struct{}
	Done() <-chan struct{}
	Err() error
	State() SessionState
	Close() error
}

// Dialer opens a Transport with a short-lived credential.
type Dialer interface {
	Kind() TransportKind
	Dial(ctx context.Context, credential string, onMessage MessageHandler) (Transport, error)
}

// ConnectionError is a failure to open a transport. StatusCode is set when
// the endpoint answered over HTTP.
type ConnectionError struct {
	Stage      string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connection failed during %s (status %d): %v", e.Stage, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("connection failed during %s: %v", e.Stage, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AbnormalCloseError reports a transport that closed without a normal close
// handshake after it was open.
type AbnormalCloseError struct {
	Code   int
	Reason string
}

func (e *AbnormalCloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed abnormally (code %d)", e.Code)
	}
	return fmt.Sprintf("connection closed abnormally (code %d): %s", e.Code, e.Reason)
}

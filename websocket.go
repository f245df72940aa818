package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteWait        = 10 * time.Second
	wsMaxMessageSize   = 64 * 1024 * 1024
	wsCloseGrace       = time.Second

	subprotocolRealtime  = "realtime"
	subprotocolKeyPrefix = "openai-insecure-api-key."
	subprotocolBeta      = "openai-beta.realtime-v1"
)

type WebSocketDialer struct {
	Logger shared.LoggerAdapter
	// URL is the realtime websocket endpoint without the model query.
	URL              string
	Model            string
	HandshakeTimeout time.Duration
}

var _ Dialer = (*WebSocketDialer)(nil)

func (d *WebSocketDialer) Kind() TransportKind { return TransportWebSocket }

func (d *WebSocketDialer) endpoint() (string, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if d.Model != "" {
		q := u.Query()
		q.Set("model", d.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial authenticates with subprotocol tokens, which is how browsers pass the
// key since they cannot set headers on a websocket upgrade.
func (d *WebSocketDialer) Dial(ctx context.Context, credential string, onMessage MessageHandler) (Transport, error) {
	if d.Logger == nil {
		return nil, shared.ErrNoLogger
	}
	if credential == "" {
		return nil, &ConnectionError{Stage: "dial", Err: shared.ErrNoCredential}
	}
	endpoint, err := d.endpoint()
	if err != nil {
		return nil, &ConnectionError{Stage: "dial", Err: fmt.Errorf("parsing websocket url: %w", err)}
	}
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = wsHandshakeTimeout
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		Subprotocols:     []string{subprotocolRealtime, subprotocolKeyPrefix + credential, subprotocolBeta},
		Proxy:            http.ProxyFromEnvironment,
	}

	d.Logger.Info("dialing realtime websocket", zap.String("url", endpoint))
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		cerr := &ConnectionError{Stage: "dial", Err: err}
		if resp != nil {
			_ = resp.Body.Close()
			cerr.StatusCode = resp.StatusCode
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				cerr.Err = fmt.Errorf("%w: %v", shared.ErrUnauthorized, err)
			case http.StatusForbidden:
				cerr.Err = fmt.Errorf("%w: %v", shared.ErrForbidden, err)
			}
		}
		return nil, cerr
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	conn.SetReadLimit(wsMaxMessageSize)

	t := &WebSocketTransport{
		logger:    d.Logger.With(zap.String("transport", string(TransportWebSocket))),
		conn:      conn,
		onMessage: onMessage,
		opened:    make(chan struct{}),
		done:      make(chan struct{}),
		state:     SessionStateOpen,
	}
	// The upgrade completing is the open event.
	close(t.opened)
	go t.readLoop()
	return t, nil
}

type WebSocketTransport struct {
	logger    shared.LoggerAdapter
	conn      *websocket.Conn
	onMessage MessageHandler

	writeMu sync.Mutex

	mu        sync.Mutex
	state     SessionState
	err       error
	closing   bool
	closeOnce sync.Once
	opened    chan struct{}
	done      chan struct{}
}

var _ Transport = (*WebSocketTransport)(nil)

func (t *WebSocketTransport) Opened() <-chan struct{} { return t.opened }

func (t *WebSocketTransport) Done() <-chan struct{} { return t.done }

func (t *WebSocketTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *WebSocketTransport) State() SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *WebSocketTransport) Send(ev ClientEvent) error {
	if t.State() != SessionStateOpen {
		return shared.ErrTransportNotOpen
	}
	data, err := EncodeClientEvent(ev)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ev.ClientEventType(), err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s: %w", ev.ClientEventType(), err)
	}
	t.logger.Trace("sent event", zap.String("type", string(ev.ClientEventType())))
	return nil
}

func (t *WebSocketTransport) readLoop() {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			t.finish(t.classify(err))
			return
		}
		if mt != websocket.TextMessage {
			t.logger.Debug("ignoring non-text frame", zap.Int("messageType", mt))
			continue
		}
		if t.onMessage != nil {
			t.onMessage(data)
		}
	}
}

// classify maps a read error to the transport's terminal error. A close we
// initiated, or a normal close from the peer, ends without error.
func (t *WebSocketTransport) classify(err error) error {
	t.mu.Lock()
	closing := t.closing
	t.mu.Unlock()
	if closing {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.CloseNormalClosure {
			return nil
		}
		return &AbnormalCloseError{Code: ce.Code, Reason: ce.Text}
	}
	return &AbnormalCloseError{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}

func (t *WebSocketTransport) finish(err error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.state = SessionStateClosed
		t.err = err
		t.mu.Unlock()
		_ = t.conn.Close()
		if err != nil {
			t.logger.Error("websocket closed", err)
		} else {
			t.logger.Info("websocket closed")
		}
		close(t.done)
	})
}

// Close sends a normal close frame and waits briefly for the peer to answer.
// It is safe to call more than once.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closing || t.state == SessionStateClosed {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.mu.Unlock()

	t.writeMu.Lock()
	err := t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait),
	)
	t.writeMu.Unlock()

	select {
	case <-t.done:
	case <-time.After(wsCloseGrace):
		t.finish(nil)
	}
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("sending close frame: %w", err)
	}
	return nil
}

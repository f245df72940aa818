package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bt-bridge/realtime-voice/tools"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu         sync.Mutex
	sent       []ClientEvent
	state      SessionState
	sendErr    error
	err        error
	closeCalls int
	opened     chan struct{}
	done       chan struct{}
	doneOnce   sync.Once
}

func newFakeTransport(open bool) *fakeTransport {
	t := &fakeTransport{
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if open {
		t.state = SessionStateOpen
		close(t.opened)
	}
	return t
}

func (t *fakeTransport) Send(ev ClientEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SessionStateOpen {
		return shared.ErrTransportNotOpen
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, ev)
	return nil
}

func (t *fakeTransport) Opened() <-chan struct{} { return t.opened }
func (t *fakeTransport) Done() <-chan struct{}   { return t.done }

func (t *fakeTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *fakeTransport) State() SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closeCalls++
	t.mu.Unlock()
	t.drop(nil)
	return nil
}

// drop ends the transport as if the peer went away with err.
func (t *fakeTransport) drop(err error) {
	t.doneOnce.Do(func() {
		t.mu.Lock()
		t.state = SessionStateClosed
		t.err = err
		t.mu.Unlock()
		close(t.done)
	})
}

func (t *fakeTransport) types() []ClientEventType {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ClientEventType, len(t.sent))
	for i, ev := range t.sent {
		out[i] = ev.ClientEventType()
	}
	return out
}

func (t *fakeTransport) events() []ClientEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ClientEvent(nil), t.sent...)
}

type fakeDialer struct {
	transport *fakeTransport
	err       error
	onMessage MessageHandler
	calls     int
}

func (d *fakeDialer) Kind() TransportKind { return TransportWebSocket }

func (d *fakeDialer) Dial(_ context.Context, _ string, onMessage MessageHandler) (Transport, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	d.onMessage = onMessage
	return d.transport, nil
}

// fakeMic serves audio written with feed between Start and Stop.
type fakeMic struct {
	buf        *tools.AudioBuffer
	mu         sync.Mutex
	starts     int
	stops      int
	closeCalls int
}

func newFakeMic() *fakeMic {
	return &fakeMic{buf: tools.NewAudioBuffer(1 << 16)}
}

func (m *fakeMic) Start() error {
	m.mu.Lock()
	m.starts++
	m.mu.Unlock()
	m.buf.Reset()
	return nil
}

func (m *fakeMic) Stop() error {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	return m.buf.Close()
}

func (m *fakeMic) Read(p []byte) (int, error) { return m.buf.Read(p) }

func (m *fakeMic) feed(pcm []byte) { m.buf.Write(pcm) }

func (m *fakeMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

func (m *fakeMic) closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

type recordedMessage struct {
	index   int
	msg     Message
	created bool
}

type recordingView struct {
	mu       sync.Mutex
	statuses []Status
	messages []recordedMessage
}

func (v *recordingView) StatusChanged(s Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses = append(v.statuses, s)
}

func (v *recordingView) MessageChanged(index int, msg Message, created bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, recordedMessage{index: index, msg: msg, created: created})
}

func (v *recordingView) lastStatus() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return -1
	}
	return v.statuses[len(v.statuses)-1]
}

func (v *recordingView) statusList() []Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Status(nil), v.statuses...)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := sonic.Marshal(v)
	require.NoError(t, err)
	return data
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionConfigWebSocket(t *testing.T) {
	cfg := shared.DefaultConfig()
	session := NewSessionConfig(cfg.Assistant, cfg.Client, TransportWebSocket)

	data, err := sonic.Marshal(session)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, sonic.Unmarshal(data, &m))

	v, ok := m["turn_detection"]
	assert.True(t, ok, "turn_detection must be sent explicitly")
	assert.Nil(t, v)
	assert.Equal(t, "alloy", m["voice"])
	assert.Equal(t, "pl", m["language"])
	assert.Equal(t, "auto", m["tool_choice"])
	in := m["input_audio_format"].(map[string]any)
	assert.Equal(t, "pcm16", in["type"])
	assert.EqualValues(t, 16000, in["raw_params"].(map[string]any)["sample_rate"])
	out := m["output_audio_format"].(map[string]any)
	assert.EqualValues(t, 24000, out["raw_params"].(map[string]any)["sample_rate"])
	tools := m["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, PhoneNumberToolName, tools[0].(map[string]any)["name"])
}

func TestNewSessionConfigWebRTC(t *testing.T) {
	cfg := shared.DefaultConfig()
	session := NewSessionConfig(cfg.Assistant, cfg.Client, TransportWebRTC)

	data, err := sonic.Marshal(session)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, sonic.Unmarshal(data, &m))

	assert.Equal(t, map[string]any{"type": "server_vad"}, m["turn_detection"])
	assert.NotContains(t, m, "input_audio_format")
	assert.NotContains(t, m, "output_audio_format")
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "connecting", SessionStateConnecting.String())
	assert.Equal(t, "open", SessionStateOpen.String())
	assert.Equal(t, "closed", SessionStateClosed.String())
}

func TestConfigureSendsOneUpdate(t *testing.T) {
	tr := newFakeTransport(true)
	cfg := shared.DefaultConfig()
	session := NewSessionConfig(cfg.Assistant, cfg.Client, TransportWebSocket)

	start := time.Now()
	require.NoError(t, Configure(context.Background(), tr, session, 20*time.Millisecond))

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	events := tr.events()
	require.Len(t, events, 1)
	ev := events[0].(*SessionUpdateEvent)
	assert.Equal(t, ClientEventTypeSessionUpdate, ev.Type)
	assert.Equal(t, session.Instructions, ev.Session.Instructions)
}

func TestConfigureWaitsForOpen(t *testing.T) {
	tr := newFakeTransport(false)
	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.mu.Lock()
		tr.state = SessionStateOpen
		tr.mu.Unlock()
		close(tr.opened)
	}()

	require.NoError(t, Configure(context.Background(), tr, SessionConfig{}, 0))
	assert.Len(t, tr.events(), 1)
}

func TestConfigureTransportEnds(t *testing.T) {
	tr := newFakeTransport(false)
	tr.drop(&AbnormalCloseError{Code: 1006})

	err := Configure(context.Background(), tr, SessionConfig{}, 0)
	var ace *AbnormalCloseError
	assert.ErrorAs(t, err, &ace)

	tr = newFakeTransport(true)
	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.drop(nil)
	}()
	err = Configure(context.Background(), tr, SessionConfig{}, time.Second)
	assert.ErrorIs(t, err, shared.ErrTransportClosed)
}

func TestConfigureContextCancelled(t *testing.T) {
	tr := newFakeTransport(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Configure(ctx, tr, SessionConfig{}, 0)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, tr.events())
}

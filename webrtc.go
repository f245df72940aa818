package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/pion/webrtc/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	EventsChannelLabel = "oai-events"
	sdpExchangeTimeout = 15 * time.Second
)

// TrackLocalHandler feeds the outbound microphone track until ctx is done.
type TrackLocalHandler func(ctx context.Context, track *webrtc.TrackLocalStaticSample)

// TrackRemoteHandler consumes the assistant's audio track until ctx is done.
type TrackRemoteHandler func(ctx context.Context, track *webrtc.TrackRemote)

type WebRTCDialer struct {
	Logger shared.LoggerAdapter
	// URL is the realtime endpoint accepting SDP offers.
	URL   string
	Model string
	// Beta adds the OpenAI-Beta header expected by the preview endpoint.
	Beta bool
	// LocalTrack is optional. Without it the peer connection only receives
	// audio.
	LocalTrack  TrackLocalHandler
	RemoteTrack TrackRemoteHandler
	ICEServers  []webrtc.ICEServer
	Client      *fasthttp.Client
}

var _ Dialer = (*WebRTCDialer)(nil)

func (d *WebRTCDialer) Kind() TransportKind { return TransportWebRTC }

func (d *WebRTCDialer) Dial(ctx context.Context, credential string, onMessage MessageHandler) (Transport, error) {
	if d.Logger == nil {
		return nil, shared.ErrNoLogger
	}
	if credential == "" {
		return nil, &ConnectionError{Stage: "dial", Err: shared.ErrNoCredential}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: d.ICEServers})
	if err != nil {
		return nil, &ConnectionError{Stage: "peer connection", Err: err}
	}
	tctx, cancel := context.WithCancel(context.Background())
	t := &WebRTCTransport{
		logger:    d.Logger.With(zap.String("transport", string(TransportWebRTC))),
		pc:        pc,
		onMessage: onMessage,
		opened:    make(chan struct{}),
		done:      make(chan struct{}),
		state:     SessionStateConnecting,
		ctx:       tctx,
		cancel:    cancel,
	}
	if err := t.setup(d); err != nil {
		t.finish(err)
		return nil, &ConnectionError{Stage: "peer connection", Err: err}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.finish(err)
		return nil, &ConnectionError{Stage: "offer", Err: err}
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.finish(err)
		return nil, &ConnectionError{Stage: "offer", Err: err}
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		t.finish(ctx.Err())
		return nil, &ConnectionError{Stage: "ice gathering", Err: ctx.Err()}
	}

	answer, err := d.exchangeSDP(ctx, pc.LocalDescription().SDP, credential)
	if err != nil {
		t.finish(err)
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		t.finish(err)
		return nil, &ConnectionError{Stage: "answer", Err: err}
	}
	return t, nil
}

func (d *WebRTCDialer) endpoint() (string, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", err
	}
	if d.Model != "" {
		q := u.Query()
		q.Set("model", d.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// exchangeSDP posts the offer and returns the answer SDP.
func (d *WebRTCDialer) exchangeSDP(ctx context.Context, offer, credential string) (string, error) {
	endpoint, err := d.endpoint()
	if err != nil {
		return "", &ConnectionError{Stage: "sdp exchange", Err: fmt.Errorf("parsing url: %w", err)}
	}
	req := fasthttp.AcquireRequest()
	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.SetContentType("application/sdp")
	if d.Beta {
		req.Header.Set("OpenAI-Beta", "realtime=v1")
	}
	req.SetBodyString(offer)

	status, body, err := do(ctx, d.Client, req, sdpExchangeTimeout)
	if err != nil {
		return "", &ConnectionError{Stage: "sdp exchange", Err: err}
	}
	switch status {
	case fasthttp.StatusOK, fasthttp.StatusCreated:
		return string(body), nil
	case fasthttp.StatusUnauthorized:
		return "", &ConnectionError{Stage: "sdp exchange", StatusCode: status, Err: shared.ErrUnauthorized}
	case fasthttp.StatusForbidden:
		return "", &ConnectionError{Stage: "sdp exchange", StatusCode: status, Err: shared.ErrForbidden}
	}
	return "", &ConnectionError{
		Stage:      "sdp exchange",
		StatusCode: status,
		Err:        fmt.Errorf("unexpected response: %s", body),
	}
}

type WebRTCTransport struct {
	logger    shared.LoggerAdapter
	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	onMessage MessageHandler

	localTrack   *webrtc.TrackLocalStaticSample
	localHandler TrackLocalHandler

	writeMu sync.Mutex

	mu         sync.Mutex
	state      SessionState
	peerState  webrtc.PeerConnectionState
	err        error
	closing    bool
	openOnce   sync.Once
	finishOnce sync.Once
	opened     chan struct{}
	done       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

var _ Transport = (*WebRTCTransport)(nil)

func (t *WebRTCTransport) setup(d *WebRTCDialer) error {
	t.pc.OnConnectionStateChange(t.onPeerState)

	if d.LocalTrack != nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			"audio",
			"mic",
		)
		if err != nil {
			return fmt.Errorf("creating local audio track: %w", err)
		}
		if _, err := t.pc.AddTrack(track); err != nil {
			return fmt.Errorf("adding local audio track: %w", err)
		}
		t.localTrack = track
		t.localHandler = d.LocalTrack
	} else {
		if _, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("adding audio transceiver: %w", err)
		}
	}

	if d.RemoteTrack != nil {
		remote := d.RemoteTrack
		t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if track.Kind() == webrtc.RTPCodecTypeAudio {
				go remote(t.ctx, track)
			}
		})
	}

	dc, err := t.pc.CreateDataChannel(EventsChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("creating data channel: %w", err)
	}
	t.dc = dc
	dc.OnOpen(func() {
		t.openOnce.Do(func() {
			t.mu.Lock()
			if t.state == SessionStateConnecting {
				t.state = SessionStateOpen
			}
			t.mu.Unlock()
			t.logger.Info("data channel opened", zap.String("label", dc.Label()))
			close(t.opened)
		})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			t.logger.Warn("received non-string message on data channel")
			return
		}
		if t.onMessage != nil {
			t.onMessage(msg.Data)
		}
	})
	dc.OnClose(func() {
		t.finish(fmt.Errorf("%w: data channel closed by peer", shared.ErrTransportClosed))
	})
	return nil
}

func (t *WebRTCTransport) onPeerState(state webrtc.PeerConnectionState) {
	t.mu.Lock()
	prev := t.peerState
	t.peerState = state
	t.mu.Unlock()
	t.logger.Trace(
		"peer connection state changed",
		zap.String("prev", prev.String()),
		zap.String("new", state.String()),
	)
	switch state {
	case webrtc.PeerConnectionStateConnected:
		if t.localHandler != nil && prev != webrtc.PeerConnectionStateConnected {
			go t.localHandler(t.ctx, t.localTrack)
		}
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		t.finish(fmt.Errorf("%w: peer connection %s", shared.ErrTransportClosed, state))
	case webrtc.PeerConnectionStateClosed:
		t.finish(nil)
	}
}

func (t *WebRTCTransport) Opened() <-chan struct{} { return t.opened }

func (t *WebRTCTransport) Done() <-chan struct{} { return t.done }

func (t *WebRTCTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *WebRTCTransport) State() SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *WebRTCTransport) Send(ev ClientEvent) error {
	if t.State() != SessionStateOpen {
		return shared.ErrTransportNotOpen
	}
	data, err := EncodeClientEvent(ev)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ev.ClientEventType(), err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.dc.SendText(string(data)); err != nil {
		return fmt.Errorf("sending %s: %w", ev.ClientEventType(), err)
	}
	t.logger.Trace("sent event", zap.String("type", string(ev.ClientEventType())))
	return nil
}

// finish records the terminal error once. A failure after our own Close is
// not an error.
func (t *WebRTCTransport) finish(err error) {
	t.finishOnce.Do(func() {
		t.mu.Lock()
		if t.closing {
			err = nil
		}
		t.state = SessionStateClosed
		t.err = err
		t.mu.Unlock()
		t.cancel()
		go func() {
			if cerr := t.pc.Close(); cerr != nil && !errors.Is(cerr, webrtc.ErrConnectionClosed) {
				t.logger.Error("closing peer connection", cerr)
			}
		}()
		if err != nil {
			t.logger.Error("webrtc transport ended", err)
		} else {
			t.logger.Info("webrtc transport closed")
		}
		close(t.done)
	})
}

func (t *WebRTCTransport) Close() error {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()
	t.finish(nil)
	return nil
}

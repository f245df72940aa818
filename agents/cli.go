package agents

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	pkg "github.com/bt-bridge/realtime-voice"
	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bt-bridge/realtime-voice/tools"
	"github.com/bt-bridge/realtime-voice/tools/audio"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	outputBufferSize  = 100 * time.Millisecond
	micBufferSeconds  = 5
	ringBufferSeconds = 2
	// The remote opus track is decoded at its native rate.
	webrtcOutputRate     = 48000
	webrtcOutputChannels = 2
)

const helpText = `Commands:
  start   open a conversation
  <Enter> press / release the talk button (websocket transport)
  stop    end the conversation
  quit    exit`

// CLIAgent is the terminal front end: it renders the conversation log and
// turns stdin lines into controller actions.
type CLIAgent struct {
	logger     shared.LoggerAdapter
	printer    *shared.Printer
	cfg        shared.Config
	kind       pkg.TransportKind
	controller *pkg.Controller

	outOnce sync.Once
	out     *audio.Output
	outErr  error

	mu      sync.Mutex
	pending bool

	closeOnce sync.Once
	done      chan struct{}
}

var _ pkg.View = (*CLIAgent)(nil)

func NewCLIAgent(logger shared.LoggerAdapter, printer *shared.Printer, cfg shared.Config) (*CLIAgent, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if printer == nil {
		return nil, errors.New("no printer provided")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &CLIAgent{
		logger:  logger,
		printer: printer,
		cfg:     cfg,
		kind:    pkg.TransportKind(cfg.Client.Transport),
		done:    make(chan struct{}),
	}
	credentials := &pkg.CredentialClient{
		BaseURL: cfg.Client.ServerURL,
		Client:  &fasthttp.Client{Name: "realtime-voice-cli/" + shared.Version},
		Timeout: cfg.Client.RequestTimeout,
	}
	controller, err := pkg.NewController(logger.With(zap.String("component", "controller")), a.kind, credentials, a.prepare, a)
	if err != nil {
		return nil, err
	}
	a.controller = controller
	return a, nil
}

func (a *CLIAgent) Done() <-chan struct{} {
	return a.done
}

// Spawn prints the banner and starts reading commands from in.
func (a *CLIAgent) Spawn(ctx context.Context, in io.Reader) error {
	a.logger.Info("spawning CLI agent", zap.String("transport", string(a.kind)))
	a.println("🤖 Realtime voice assistant "+shared.Version, 0)
	a.println("📋 Session Config", 0)
	session := pkg.NewSessionConfig(a.cfg.Assistant, a.cfg.Client, a.kind)
	summary, err := a.cfg.YAML()
	if err != nil {
		a.logger.Error("marshaling config to yaml", err)
		return err
	}
	if err := a.printer.Write(summary, 1); err != nil {
		a.logger.Error("printing session config", err)
	}
	a.logger.Debug("session config", zap.Any("session", session))
	a.println("", 0)
	a.println(helpText, 0)

	go a.readCommands(ctx, in)
	return nil
}

func (a *CLIAgent) readCommands(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if quit := a.command(ctx, strings.TrimSpace(scanner.Text())); quit {
			break
		}
		select {
		case <-a.done:
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Error("reading commands", err)
	}
	_ = a.Close()
}

// command runs one input line and reports whether the agent should exit.
func (a *CLIAgent) command(ctx context.Context, line string) bool {
	var err error
	switch strings.ToLower(line) {
	case "start", "s":
		err = a.controller.Start(ctx)
	case "":
		err = a.controller.ToggleTalk()
	case "stop", "x":
		err = a.controller.Stop()
	case "quit", "q", "exit":
		return true
	case "help", "h", "?":
		a.println(helpText, 0)
	default:
		a.println(fmt.Sprintf("❓ Unknown command %q. Type help.", line), 0)
	}
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrSessionAlreadyRunning):
		a.println("⚠️  A conversation is already running.", 0)
	case errors.Is(err, shared.ErrNoActiveSession):
		a.println("⚠️  No conversation. Type start.", 0)
	case errors.Is(err, pkg.ErrPushToTalkUnsupported):
		a.println("ℹ️  Voice activity detection is on, just speak.", 0)
	default:
		// Start failures are already in the log view.
		a.logger.Error("running command", err, zap.String("command", line))
		if !strings.EqualFold(line, "start") && !strings.EqualFold(line, "s") {
			a.println("❌ "+err.Error(), 0)
		}
	}
	return false
}

func (a *CLIAgent) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.controller.Active() {
			err = a.controller.Stop()
		}
		a.logger.Info("CLI agent closed")
		close(a.done)
	})
	return err
}

func (a *CLIAgent) println(s string, ind int) {
	a.mu.Lock()
	a.pending = false
	a.mu.Unlock()
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing", err)
	}
}

func (a *CLIAgent) StatusChanged(status pkg.Status) {
	icon := "●"
	switch status {
	case pkg.StatusListening:
		icon = "🎙️"
	case pkg.StatusProcessing:
		icon = "⏳"
	case pkg.StatusSpeaking:
		icon = "🔊"
	case pkg.StatusError:
		icon = "❌"
	case pkg.StatusEnded:
		icon = "⏹️"
	}
	a.logger.Debug("status changed", zap.String("status", status.String()))
	a.println(fmt.Sprintf("%s %s", icon, status.Text()), 0)
}

func (a *CLIAgent) MessageChanged(_ int, msg pkg.Message, _ bool) {
	var prefix string
	switch msg.Role {
	case pkg.RoleAssistant:
		prefix = "🤖 "
	case pkg.RoleSystem:
		prefix = "ℹ️  "
	default:
		prefix = "🧑 "
	}
	if msg.Pending {
		a.mu.Lock()
		a.pending = true
		a.mu.Unlock()
		if err := a.printer.Rewrite(prefix+msg.Text, 1); err != nil {
			a.logger.Error("printing pending message", err)
		}
		return
	}
	a.mu.Lock()
	wasPending := a.pending
	a.mu.Unlock()
	if wasPending && msg.Role == pkg.RoleAssistant {
		// Redraw the final text in place of the pending line.
		if err := a.printer.Rewrite(prefix+msg.Text, 1); err != nil {
			a.logger.Error("printing message", err)
		}
		a.println("", 0)
		return
	}
	a.println(prefix+msg.Text, 1)
}

// output lazily opens the speaker. The sample rate follows the transport
// since oto cannot reopen at another rate.
func (a *CLIAgent) output() (*audio.Output, error) {
	a.outOnce.Do(func() {
		switch a.kind {
		case pkg.TransportWebRTC:
			a.out, a.outErr = audio.NewOutput(webrtcOutputRate, webrtcOutputChannels, outputBufferSize)
		default:
			a.out, a.outErr = audio.NewOutput(a.cfg.Client.OutputSampleRate, 1, outputBufferSize)
		}
	})
	return a.out, a.outErr
}

func (a *CLIAgent) prepare(ctx context.Context) (pkg.ConversationOptions, error) {
	out, err := a.output()
	if err != nil {
		return pkg.ConversationOptions{}, fmt.Errorf("opening speaker: %w", err)
	}
	opts := pkg.ConversationOptions{
		Session:     pkg.NewSessionConfig(a.cfg.Assistant, a.cfg.Client, a.kind),
		SettleDelay: a.cfg.Client.SettleDelay,
		Language:    a.cfg.Assistant.Language,
	}
	switch a.kind {
	case pkg.TransportWebSocket:
		return a.prepareWebSocket(opts, out)
	case pkg.TransportWebRTC:
		return a.prepareWebRTC(opts, out)
	}
	return opts, shared.ErrUnknownTransport
}

func (a *CLIAgent) prepareWebSocket(opts pkg.ConversationOptions, out *audio.Output) (pkg.ConversationOptions, error) {
	mic, err := audio.NewMicrophone(a.logger.With(zap.String("component", "microphone")), a.cfg.Client.InputSampleRate, 1, micBufferSeconds)
	if err != nil {
		a.println("❌ Unable to access microphone. Check that it is connected and that access is allowed.", 0)
		return opts, err
	}
	opts.Dialer = &pkg.WebSocketDialer{
		Logger: a.logger.With(zap.String("component", "websocket")),
		URL:    a.cfg.Client.RealtimeURL,
		Model:  a.cfg.Assistant.Model,
	}
	opts.Microphone = mic
	opts.ChunkBytes = tools.ChunkBytes(a.cfg.Client.ChunkInterval, a.cfg.Client.InputSampleRate, 1)
	opts.Player = out
	opts.Devices = []io.Closer{mic}
	return opts, nil
}

type trackCloser struct {
	track mediadevices.Track
}

func (c trackCloser) Close() error { return c.track.Close() }

func (a *CLIAgent) prepareWebRTC(opts pkg.ConversationOptions, out *audio.Output) (pkg.ConversationOptions, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return opts, fmt.Errorf("creating opus params: %w", err)
	}
	micStream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
		},
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
		),
	})
	if err != nil {
		a.println("❌ Unable to access microphone. Check that it is connected and that access is allowed.", 0)
		return opts, fmt.Errorf("getting microphone stream: %w", err)
	}
	tracks := micStream.GetAudioTracks()
	if len(tracks) == 0 {
		return opts, errors.New("no audio track found in microphone stream")
	}
	micTrack := tracks[0]
	logger := a.logger.With(zap.String("component", "webrtc"))

	opts.Dialer = &pkg.WebRTCDialer{
		Logger: logger,
		URL:    a.cfg.Client.RealtimeURL,
		Model:  a.cfg.Assistant.Model,
		Beta:   true,
		Client: &fasthttp.Client{Name: "realtime-voice-cli/" + shared.Version},
		LocalTrack: func(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
			audio.StreamLocalAudio(ctx, logger, track, micTrack, time.Duration(opusParams.Latency))
		},
		RemoteTrack: func(ctx context.Context, track *webrtc.TrackRemote) {
			logger.Info(
				"received remote track",
				zap.String("kind", track.Kind().String()),
				zap.String("codec", track.Codec().MimeType),
			)
			audio.PlayRemoteAudio(ctx, logger, track, out, ringBufferSeconds)
		},
	}
	opts.Devices = []io.Closer{trackCloser{track: micTrack}}
	return opts, nil
}

package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bt-bridge/realtime-voice/tools"
	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// Microphone captures mono PCM16 from the default input device. Captured
// audio lands in a ring buffer that Read drains; after Stop the remaining
// audio is still readable and then Read returns io.EOF.
type Microphone struct {
	logger  shared.LoggerAdapter
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	buffer  *tools.AudioBuffer
	mu      sync.Mutex
	running bool
	closed  bool
}

func NewMicrophone(logger shared.LoggerAdapter, sampleRate, channels, bufferSeconds int) (*Microphone, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	m := &Microphone{
		logger: logger,
		buffer: tools.NewAudioBuffer(bufferSeconds * sampleRate * channels * 2),
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Trace("malgo", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	m.mctx = mctx

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if dropped := m.buffer.Write(input); dropped > 0 {
				logger.Warn("microphone buffer dropped data", zap.Int("droppedBytes", dropped))
			}
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("initializing capture device: %w", err)
	}
	m.device = device
	return m, nil
}

func (m *Microphone) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("microphone closed")
	}
	if m.running {
		return nil
	}
	m.buffer.Reset()
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("starting capture: %w", err)
	}
	m.running = true
	return nil
}

func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	defer func() { _ = m.buffer.Close() }()
	if err := m.device.Stop(); err != nil {
		return fmt.Errorf("stopping capture: %w", err)
	}
	return nil
}

func (m *Microphone) Read(p []byte) (int, error) {
	return m.buffer.Read(p)
}

func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.running = false
	_ = m.buffer.Close()
	m.device.Uninit()
	err := m.mctx.Uninit()
	m.mctx.Free()
	m.logger.Debug("microphone released")
	return err
}

package shared

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	TransportWebRTC    = "webrtc"
	TransportWebSocket = "websocket"

	UpstreamSessions      = "sessions"
	UpstreamClientSecrets = "client_secrets"
)

const defaultInstructions = `Jesteś asystentem call center serwisu depilacja.pl.
Odpowiadaj wyłącznie po polsku, krótko i uprzejmie.
Pomagasz umówić wizytę: zbierz imię, nazwisko, datę, godzinę, rodzaj zabiegu, numer telefonu i email, a przed rezerwacją poproś o potwierdzenie.
Powtarzaj kluczowe dane podane przez klienta.
Gdy wykryjesz numer telefonu, zawsze użyj narzędzia PhoneNumber i wymów wynik po polsku.`

type Config struct {
	Assistant AssistantConfig `yaml:"assistant"`
	Client    ClientConfig    `yaml:"client"`
	Server    ServerConfig    `yaml:"server"`
}

// AssistantConfig is the persona sent in session.update and used when the
// server creates sessions upstream.
type AssistantConfig struct {
	Model        string `yaml:"model"`
	Voice        string `yaml:"voice"`
	Language     string `yaml:"language"`
	Instructions string `yaml:"instructions"`
	ToolChoice   string `yaml:"tool_choice"`
}

type ClientConfig struct {
	ServerURL        string        `yaml:"server_url"`
	RealtimeURL      string        `yaml:"realtime_url"`
	Transport        string        `yaml:"transport"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	ChunkInterval    time.Duration `yaml:"chunk_interval"`
	InputSampleRate  int           `yaml:"input_sample_rate"`
	OutputSampleRate int           `yaml:"output_sample_rate"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	LogFile          string        `yaml:"log_file"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	StaticDir      string        `yaml:"static_dir"`
	UpstreamURL    string        `yaml:"upstream_url"`
	UpstreamMode   string        `yaml:"upstream_mode"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Assistant: AssistantConfig{
			Model:        "gpt-4o-realtime-preview-2024-12-17",
			Voice:        "alloy",
			Language:     "pl",
			Instructions: defaultInstructions,
			ToolChoice:   "auto",
		},
		Client: ClientConfig{
			ServerURL:        "http://localhost:8080",
			RealtimeURL:      "https://api.openai.com/v1/realtime",
			Transport:        TransportWebSocket,
			SettleDelay:      500 * time.Millisecond,
			ChunkInterval:    100 * time.Millisecond,
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
			RequestTimeout:   15 * time.Second,
			LogFile:          "realtime-voice.log",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			UpstreamURL:    "https://api.openai.com/v1",
			UpstreamMode:   UpstreamSessions,
			RequestTimeout: 15 * time.Second,
		},
	}
}

// LoadConfig overlays the YAML file at path onto DefaultConfig. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Client.Transport {
	case TransportWebRTC, TransportWebSocket:
	default:
		errs = append(errs, fmt.Errorf("client.transport %q: %w", c.Client.Transport, ErrUnknownTransport))
	}
	switch c.Server.UpstreamMode {
	case UpstreamSessions, UpstreamClientSecrets:
	default:
		errs = append(errs, fmt.Errorf("server.upstream_mode %q is not one of %s, %s", c.Server.UpstreamMode, UpstreamSessions, UpstreamClientSecrets))
	}
	if c.Assistant.Model == "" {
		errs = append(errs, errors.New("assistant.model is empty"))
	}
	if c.Client.SettleDelay < 0 {
		errs = append(errs, errors.New("client.settle_delay is negative"))
	}
	if c.Client.ChunkInterval <= 0 {
		errs = append(errs, errors.New("client.chunk_interval must be positive"))
	}
	if c.Client.InputSampleRate <= 0 || c.Client.OutputSampleRate <= 0 {
		errs = append(errs, errors.New("client sample rates must be positive"))
	}
	return errors.Join(errs...)
}

// YAML renders the config for the startup banner.
func (c Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

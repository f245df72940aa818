package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/realtime"
	"github.com/valyala/fasthttp"
)

// Minter creates one upstream session and returns the JSON handed to the
// client. The credential is always at client_secret.value.
type Minter interface {
	Mint(ctx context.Context) ([]byte, error)
}

// UpstreamError is a non-2xx answer from the realtime API.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded %d: %s", e.StatusCode, e.Body)
}

// SessionsMinter calls the preview sessions endpoint and relays its answer
// verbatim.
type SessionsMinter struct {
	APIKey    string
	BaseURL   string
	Assistant shared.AssistantConfig
	Client    *fasthttp.Client
	Timeout   time.Duration
}

type sessionsRequest struct {
	Model        string `json:"model"`
	Voice        string `json:"voice,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

func (m *SessionsMinter) Mint(ctx context.Context) ([]byte, error) {
	base, err := url.Parse(m.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}
	body, err := sonic.Marshal(sessionsRequest{
		Model:        m.Assistant.Model,
		Voice:        m.Assistant.Voice,
		Instructions: m.Assistant.Instructions,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding session request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(base.JoinPath("realtime", "sessions").String())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	req.Header.SetContentType("application/json")
	req.Header.Set("OpenAI-Beta", "realtime=v1")
	req.SetBody(body)

	client := m.Client
	if client == nil {
		client = &fasthttp.Client{}
	}
	timeout := m.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout == 0 || left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if err := client.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("calling realtime sessions: %w", err)
	}
	out := append([]byte(nil), resp.Body()...)
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return nil, &UpstreamError{StatusCode: code, Body: out}
	}
	return out, nil
}

// ClientSecretsMinter mints a client secret through the SDK and reshapes the
// answer to the sessions layout so clients read a single shape.
type ClientSecretsMinter struct {
	client    openai.Client
	assistant shared.AssistantConfig
	ttl       time.Duration
}

func NewClientSecretsMinter(apiKey, baseURL string, assistant shared.AssistantConfig, timeout, ttl time.Duration) *ClientSecretsMinter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &ClientSecretsMinter{
		client:    openai.NewClient(opts...),
		assistant: assistant,
		ttl:       ttl,
	}
}

type clientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

type clientSecretsResponse struct {
	ClientSecret clientSecret `json:"client_secret"`
	Session      any          `json:"session,omitempty"`
}

func (m *ClientSecretsMinter) Mint(ctx context.Context) ([]byte, error) {
	params := realtime.ClientSecretNewParams{
		Session: realtime.ClientSecretNewParamsSessionUnion{
			OfRealtime: &realtime.RealtimeSessionCreateRequestParam{
				Model:        realtime.RealtimeSessionCreateRequestModel(m.assistant.Model),
				Instructions: param.NewOpt(m.assistant.Instructions),
				Audio: realtime.RealtimeAudioConfigParam{
					Output: realtime.RealtimeAudioConfigOutputParam{
						Voice: realtime.RealtimeAudioConfigOutputVoice(m.assistant.Voice),
					},
				},
			},
		},
	}
	if m.ttl > 0 {
		params.ExpiresAfter = realtime.ClientSecretNewParamsExpiresAfter{
			Anchor:  "created_at",
			Seconds: param.NewOpt(int64(m.ttl / time.Second)),
		}
	}
	res, err := m.client.Realtime.ClientSecrets.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &UpstreamError{StatusCode: apiErr.StatusCode, Body: []byte(apiErr.RawJSON())}
		}
		return nil, fmt.Errorf("minting client secret: %w", err)
	}
	out := clientSecretsResponse{
		ClientSecret: clientSecret{Value: res.Value, ExpiresAt: res.ExpiresAt},
	}
	if raw := res.Session.RawJSON(); raw != "" {
		var session map[string]any
		if err := sonic.UnmarshalString(raw, &session); err == nil {
			out.Session = session
		}
	}
	return sonic.Marshal(out)
}

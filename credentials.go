package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
)

// CredentialSource hands out the short-lived secret for one session.
type CredentialSource interface {
	Credential(ctx context.Context, kind TransportKind) (string, error)
}

// CredentialClient fetches credentials from the companion credential server.
type CredentialClient struct {
	BaseURL string
	Client  *fasthttp.Client
	Timeout time.Duration
}

var _ CredentialSource = (*CredentialClient)(nil)

type sessionResponse struct {
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
	Value string `json:"value"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details"`
}

func (c *CredentialClient) Credential(ctx context.Context, kind TransportKind) (string, error) {
	switch kind {
	case TransportWebRTC:
		body, err := c.get(ctx, "/session")
		if err != nil {
			return "", err
		}
		var resp sessionResponse
		if err := sonic.Unmarshal(body, &resp); err != nil {
			return "", &ConnectionError{Stage: "credential", Err: fmt.Errorf("decoding /session: %w", err)}
		}
		secret := resp.Value
		if resp.ClientSecret != nil && resp.ClientSecret.Value != "" {
			secret = resp.ClientSecret.Value
		}
		if secret == "" {
			return "", &ConnectionError{Stage: "credential", Err: fmt.Errorf("%w: client_secret.value missing", shared.ErrNoCredential)}
		}
		return secret, nil
	case TransportWebSocket:
		body, err := c.get(ctx, "/wstoken")
		if err != nil {
			return "", err
		}
		var resp tokenResponse
		if err := sonic.Unmarshal(body, &resp); err != nil {
			return "", &ConnectionError{Stage: "credential", Err: fmt.Errorf("decoding /wstoken: %w", err)}
		}
		token := resp.Token
		if token == "" {
			token = resp.Key
		}
		if token == "" {
			return "", &ConnectionError{Stage: "credential", Err: fmt.Errorf("%w: token missing", shared.ErrNoCredential)}
		}
		return decodeToken(token), nil
	}
	return "", fmt.Errorf("%w: %s", shared.ErrUnknownTransport, kind)
}

// decodeToken undoes the server's base64 wrapping. Tokens that are not valid
// base64 are used as they are.
func decodeToken(token string) string {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil || len(raw) == 0 {
		return token
	}
	return string(raw)
}

func (c *CredentialClient) get(ctx context.Context, path string) ([]byte, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, &ConnectionError{Stage: "credential", Err: fmt.Errorf("parsing server url: %w", err)}
	}
	req := fasthttp.AcquireRequest()
	req.SetRequestURI(base.JoinPath(path).String())
	req.Header.SetMethod(fasthttp.MethodGet)

	status, body, err := do(ctx, c.Client, req, c.Timeout)
	if err != nil {
		return nil, &ConnectionError{Stage: "credential", Err: err}
	}
	if status >= 200 && status < 300 {
		return body, nil
	}
	cerr := &ConnectionError{Stage: "credential", StatusCode: status}
	var er errorResponse
	if uerr := sonic.Unmarshal(body, &er); uerr == nil && er.Error != "" {
		cerr.Err = errors.New(er.Error)
		if er.Details != nil {
			cerr.Err = fmt.Errorf("%s: %v", er.Error, er.Details)
		}
	} else {
		cerr.Err = fmt.Errorf("unexpected response: %s", body)
	}
	switch status {
	case fasthttp.StatusUnauthorized:
		cerr.Err = fmt.Errorf("%w: %v", shared.ErrUnauthorized, cerr.Err)
	case fasthttp.StatusForbidden:
		cerr.Err = fmt.Errorf("%w: %v", shared.ErrForbidden, cerr.Err)
	}
	return nil, cerr
}

package server

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type stubMinter struct {
	body  []byte
	err   error
	calls int
}

func (m *stubMinter) Mint(context.Context) ([]byte, error) {
	m.calls++
	return m.body, m.err
}

var fixedNow = time.Date(2024, 12, 17, 10, 30, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = shared.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func serve(s *Server, method, uri string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	s.Handler(ctx)
	return ctx
}

func decodeBody(t *testing.T, ctx *fasthttp.RequestCtx) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, sonic.Unmarshal(ctx.Response.Body(), &out))
	return out
}

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, shared.ErrNoLogger)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Options{})
	ctx := serve(s, fasthttp.MethodGet, "/health")

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := decodeBody(t, ctx)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2024-12-17T10:30:00Z", body["time"])
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, Options{APIKey: "sk-test", Minter: &stubMinter{}})
	ctx := serve(s, fasthttp.MethodPost, "/session")

	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	assert.Equal(t, "GET, HEAD", string(ctx.Response.Header.Peek("Allow")))
}

func TestSession(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		minter     *stubMinter
		wantStatus int
		wantError  string
		wantCalls  int
	}{
		{
			name:       "relays minted session",
			apiKey:     "sk-test",
			minter:     &stubMinter{body: []byte(`{"client_secret":{"value":"ek_1"}}`)},
			wantStatus: fasthttp.StatusOK,
			wantCalls:  1,
		},
		{
			name:       "missing key",
			minter:     &stubMinter{},
			wantStatus: fasthttp.StatusInternalServerError,
			wantError:  msgMissingKey,
		},
		{
			name:       "upstream rejection keeps status",
			apiKey:     "sk-test",
			minter:     &stubMinter{err: &UpstreamError{StatusCode: 429, Body: []byte("slow down")}},
			wantStatus: 429,
			wantError:  msgUpstream,
			wantCalls:  1,
		},
		{
			name:       "transport failure",
			apiKey:     "sk-test",
			minter:     &stubMinter{err: errors.New("dial tcp: refused")},
			wantStatus: fasthttp.StatusInternalServerError,
			wantError:  msgServerError,
			wantCalls:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Options{APIKey: tt.apiKey, Minter: tt.minter})
			ctx := serve(s, fasthttp.MethodGet, "/session")

			assert.Equal(t, tt.wantStatus, ctx.Response.StatusCode())
			assert.Equal(t, tt.wantCalls, tt.minter.calls)
			body := decodeBody(t, ctx)
			if tt.wantError == "" {
				secret := body["client_secret"].(map[string]any)
				assert.Equal(t, "ek_1", secret["value"])
				return
			}
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestUpstreamDetailsAreRelayed(t *testing.T) {
	minter := &stubMinter{err: &UpstreamError{StatusCode: 401, Body: []byte(`{"error":"bad key"}`)}}
	s := newTestServer(t, Options{APIKey: "sk-test", Minter: minter})
	ctx := serve(s, fasthttp.MethodGet, "/session")

	body := decodeBody(t, ctx)
	assert.Equal(t, `{"error":"bad key"}`, body["details"])
}

func TestToken(t *testing.T) {
	s := newTestServer(t, Options{APIKey: "sk-test"})
	for _, path := range []string{"/wstoken", "/wsauth"} {
		t.Run(path, func(t *testing.T) {
			ctx := serve(s, fasthttp.MethodGet, path)

			require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
			body := decodeBody(t, ctx)
			want := base64.StdEncoding.EncodeToString([]byte("sk-test"))
			assert.Equal(t, want, body["token"])
			assert.Equal(t, want, body["key"])
			assert.EqualValues(t, fixedNow.UnixMilli(), body["timestamp"])
		})
	}
}

func TestTokenWithoutKey(t *testing.T) {
	s := newTestServer(t, Options{})
	ctx := serve(s, fasthttp.MethodGet, "/wstoken")

	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.Equal(t, msgMissingKey, decodeBody(t, ctx)["error"])
}

func TestStaticPages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>index</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "diagnostic.html"), []byte("<h1>diag</h1>"), 0o644))
	s := newTestServer(t, Options{StaticDir: dir})

	ctx := serve(s, fasthttp.MethodGet, "/")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "<h1>index</h1>", string(ctx.Response.Body()))

	ctx = serve(s, fasthttp.MethodGet, "/diagnostic")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "<h1>diag</h1>", string(ctx.Response.Body()))
}

func TestNotFoundWithoutStaticDir(t *testing.T) {
	s := newTestServer(t, Options{})
	ctx := serve(s, fasthttp.MethodGet, "/")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestSessionsMinter(t *testing.T) {
	var gotPath, gotAuth, gotBeta string
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("OpenAI-Beta")
		raw, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sess_1","client_secret":{"value":"ek_abc","expires_at":1}}`))
	}))
	defer upstream.Close()

	cfg := shared.DefaultConfig()
	m := &SessionsMinter{
		APIKey:    "sk-test",
		BaseURL:   upstream.URL + "/v1",
		Assistant: cfg.Assistant,
		Client:    &fasthttp.Client{},
		Timeout:   time.Second,
	}
	body, err := m.Mint(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/v1/realtime/sessions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "realtime=v1", gotBeta)
	assert.Equal(t, cfg.Assistant.Model, gotBody["model"])
	assert.Equal(t, "alloy", gotBody["voice"])
	assert.Equal(t, cfg.Assistant.Instructions, gotBody["instructions"])
	assert.JSONEq(t, `{"id":"sess_1","client_secret":{"value":"ek_abc","expires_at":1}}`, string(body))
}

func TestSessionsMinterUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key"}}`))
	}))
	defer upstream.Close()

	m := &SessionsMinter{APIKey: "bad", BaseURL: upstream.URL, Assistant: shared.DefaultConfig().Assistant}
	_, err := m.Mint(context.Background())

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusUnauthorized, upErr.StatusCode)
	assert.Contains(t, string(upErr.Body), "Incorrect API key")
}

func TestClientSecretsMinter(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":"ek_secret","expires_at":1734430000,"session":{"type":"realtime","model":"gpt-realtime"}}`))
	}))
	defer upstream.Close()

	cfg := shared.DefaultConfig()
	m := NewClientSecretsMinter("sk-test", upstream.URL+"/v1", cfg.Assistant, time.Second, time.Minute)
	body, err := m.Mint(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/v1/realtime/client_secrets", gotPath)
	session := gotBody["session"].(map[string]any)
	assert.Equal(t, cfg.Assistant.Model, session["model"])
	expires := gotBody["expires_after"].(map[string]any)
	assert.EqualValues(t, 60, expires["seconds"])

	var out map[string]any
	require.NoError(t, sonic.Unmarshal(body, &out))
	secret := out["client_secret"].(map[string]any)
	assert.Equal(t, "ek_secret", secret["value"])
	assert.EqualValues(t, 1734430000, secret["expires_at"])
}

func TestClientSecretsMinterUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"no access","type":"invalid_request_error"}}`))
	}))
	defer upstream.Close()

	m := NewClientSecretsMinter("sk-test", upstream.URL+"/v1", shared.DefaultConfig().Assistant, time.Second, 0)
	_, err := m.Mint(context.Background())

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusForbidden, upErr.StatusCode)
}

func TestNewMinter(t *testing.T) {
	cfg := shared.DefaultConfig()

	m, err := NewMinter("sk", cfg)
	require.NoError(t, err)
	assert.IsType(t, &SessionsMinter{}, m)

	cfg.Server.UpstreamMode = shared.UpstreamClientSecrets
	m, err = NewMinter("sk", cfg)
	require.NoError(t, err)
	assert.IsType(t, &ClientSecretsMinter{}, m)

	cfg.Server.UpstreamMode = "bogus"
	_, err = NewMinter("sk", cfg)
	assert.Error(t, err)
}

// Package server issues short-lived credentials for the realtime client and
// serves its static pages.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	msgMissingKey  = "Brak klucza API OpenAI"
	msgUpstream    = "Błąd API OpenAI"
	msgServerError = "Błąd serwera"
)

type Options struct {
	Logger shared.LoggerAdapter
	APIKey string
	// StaticDir is optional. When set, / serves index.html, /diagnostic
	// serves diagnostic.html and other paths are looked up as files.
	StaticDir      string
	Minter         Minter
	RequestTimeout time.Duration
	Now            func() time.Time
}

type Server struct {
	logger  shared.LoggerAdapter
	apiKey  string
	static  string
	minter  Minter
	timeout time.Duration
	now     func() time.Time
	files   fasthttp.RequestHandler
	srv     *fasthttp.Server
}

func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, shared.ErrNoLogger
	}
	s := &Server{
		logger:  opts.Logger,
		apiKey:  opts.APIKey,
		static:  opts.StaticDir,
		minter:  opts.Minter,
		timeout: opts.RequestTimeout,
		now:     opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.timeout <= 0 {
		s.timeout = 15 * time.Second
	}
	if s.static != "" {
		fs := &fasthttp.FS{
			Root:            s.static,
			IndexNames:      []string{"index.html"},
			AcceptByteRange: true,
			PathNotFound:    s.notFound,
		}
		s.files = fs.NewRequestHandler()
	}
	s.srv = &fasthttp.Server{
		Handler:      s.Handler,
		Name:         "realtime-voice/" + shared.Version,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, nil
}

// NewMinter picks the upstream flavour configured for the server.
func NewMinter(apiKey string, cfg shared.Config) (Minter, error) {
	switch cfg.Server.UpstreamMode {
	case shared.UpstreamSessions:
		return &SessionsMinter{
			APIKey:    apiKey,
			BaseURL:   cfg.Server.UpstreamURL,
			Assistant: cfg.Assistant,
			Client:    &fasthttp.Client{Name: "realtime-voice/" + shared.Version},
			Timeout:   cfg.Server.RequestTimeout,
		}, nil
	case shared.UpstreamClientSecrets:
		return NewClientSecretsMinter(apiKey, cfg.Server.UpstreamURL, cfg.Assistant, cfg.Server.RequestTimeout, 0), nil
	}
	return nil, errors.New("unknown upstream mode: " + cfg.Server.UpstreamMode)
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("credential server listening", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Response.Header.Set("Allow", "GET, HEAD")
		s.writeJSON(ctx, fasthttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	switch path {
	case "/session":
		s.handleSession(ctx)
	case "/wsauth", "/wstoken":
		s.handleToken(ctx)
	case "/health":
		s.writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"status": "ok",
			"time":   s.now().UTC().Format(time.RFC3339Nano),
		})
	case "/":
		s.serveFile(ctx, "index.html")
	case "/diagnostic":
		s.serveFile(ctx, "diagnostic.html")
	default:
		if s.files == nil {
			s.notFound(ctx)
			return
		}
		s.files(ctx)
	}
	s.logger.Debug("request served",
		zap.String("method", string(ctx.Method())),
		zap.String("path", path),
		zap.Int("status", ctx.Response.StatusCode()),
	)
}

func (s *Server) handleSession(ctx *fasthttp.RequestCtx) {
	if s.apiKey == "" {
		s.logger.Error("session requested without API key", shared.ErrNoAPIKey)
		s.writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]any{"error": msgMissingKey})
		return
	}
	if s.minter == nil {
		s.writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]any{"error": msgServerError})
		return
	}
	mctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	body, err := s.minter.Mint(mctx)
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			s.logger.Error("upstream rejected session", err, zap.Int("status", upstream.StatusCode))
			s.writeJSON(ctx, upstream.StatusCode, map[string]any{
				"error":   msgUpstream,
				"details": string(upstream.Body),
			})
			return
		}
		s.logger.Error("minting session", err)
		s.writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]any{"error": msgServerError})
		return
	}
	s.logger.Info("session credential issued")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// handleToken returns the key wrapped in base64 under both names clients
// have used for it.
func (s *Server) handleToken(ctx *fasthttp.RequestCtx) {
	if s.apiKey == "" {
		s.logger.Error("token requested without API key", shared.ErrNoAPIKey)
		s.writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]any{"error": msgMissingKey})
		return
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(s.apiKey))
	s.writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"token":     encoded,
		"key":       encoded,
		"timestamp": s.now().UnixMilli(),
	})
}

func (s *Server) serveFile(ctx *fasthttp.RequestCtx, name string) {
	if s.static == "" {
		s.notFound(ctx)
		return
	}
	ctx.SendFile(filepath.Join(s.static, name))
}

func (s *Server) notFound(ctx *fasthttp.RequestCtx) {
	s.writeJSON(ctx, fasthttp.StatusNotFound, map[string]any{"error": "not found"})
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Error("encoding response", err)
		ctx.Error(msgServerError, fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	goSession "github.com/MrEthical07/goSession"
	"go.uber.org/zap"
)

const DefaultCSRFHeader = "X-CSRF-Token"

// Tokens is the bearer token source. [goSession.Manager] implements it.
type Tokens interface {
	Token() (string, bool)
	RefreshToken(ctx context.Context, p goSession.Priority) (string, error)
}

// CSRF is the anti-forgery token source. [csrf.Cache] implements it.
type CSRF interface {
	GetToken(ctx context.Context, force bool) (string, error)
}

// Config configures a [Transport].
type Config struct {
	// Base performs the actual calls. Defaults to http.DefaultTransport.
	Base http.RoundTripper
	// CSRF, when set, supplies the anti-forgery header.
	CSRF       CSRF
	CSRFHeader string
	// ProtectedPaths are path prefixes that carry the anti-forgery header
	// even on safe methods.
	ProtectedPaths []string
	// AuthPaths are path prefixes whose 401 responses are returned as is.
	// Defaults to "/auth/".
	AuthPaths []string
	// Priority is used for refreshes triggered by a 401 unless the request
	// context carries one set with [goSession.WithRefreshPriority]. The zero
	// value selects PriorityHigh; request PriorityLow through the context.
	Priority goSession.Priority
	Logger   *zap.Logger
}

// Transport is an http.RoundTripper that attaches the bearer and
// anti-forgery tokens and repairs a 401 with one refresh and one retry.
// Concurrent 401s share a single refresh through the manager.
type Transport struct {
	tokens Tokens
	cfg    Config
}

// NewTransport returns a Transport drawing tokens from tokens.
func NewTransport(tokens Tokens, cfg Config) *Transport {
	if cfg.Base == nil {
		cfg.Base = http.DefaultTransport
	}
	if cfg.CSRFHeader == "" {
		cfg.CSRFHeader = DefaultCSRFHeader
	}
	if cfg.AuthPaths == nil {
		cfg.AuthPaths = []string{"/auth/"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Priority == goSession.PriorityLow {
		cfg.Priority = goSession.PriorityHigh
	}
	return &Transport{tokens: tokens, cfg: cfg}
}

// Client returns an *http.Client using t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out, sent, err := t.prepare(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.cfg.Base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || t.isAuthPath(req.URL.Path) {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}

	token, ok := t.tokens.Token()
	if !ok || token == sent {
		ctx := req.Context()
		token, err = t.tokens.RefreshToken(ctx, goSession.RefreshPriorityFromContext(ctx, t.cfg.Priority))
		if err != nil {
			t.cfg.Logger.Debug("transport.refresh_failed",
				zap.String("path", req.URL.Path),
				zap.String("code", string(goSession.CodeOf(err))),
			)
			return resp, nil
		}
	}

	retry, err := t.withToken(req, token)
	if err != nil {
		return resp, nil
	}
	drain(resp)
	return t.cfg.Base.RoundTrip(retry)
}

// prepare clones req with the current bearer token and, when required, the
// anti-forgery header. It returns the bearer token that was attached.
func (t *Transport) prepare(req *http.Request) (*http.Request, string, error) {
	out := req.Clone(req.Context())

	token, ok := t.tokens.Token()
	if ok {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	if t.cfg.CSRF != nil && t.needsCSRF(req) {
		v, err := t.cfg.CSRF.GetToken(req.Context(), false)
		if err != nil {
			return nil, "", fmt.Errorf("middleware: anti-forgery token: %w", err)
		}
		out.Header.Set(t.cfg.CSRFHeader, v)
	}

	return out, token, nil
}

func (t *Transport) withToken(req *http.Request, token string) (*http.Request, error) {
	out, _, err := t.prepare(req)
	if err != nil {
		return nil, err
	}
	out.Header.Set("Authorization", "Bearer "+token)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	return out, nil
}

func (t *Transport) needsCSRF(req *http.Request) bool {
	if isMutating(req.Method) {
		return true
	}
	for _, p := range t.cfg.ProtectedPaths {
		if strings.HasPrefix(req.URL.Path, p) {
			return true
		}
	}
	return false
}

func (t *Transport) isAuthPath(path string) bool {
	for _, p := range t.cfg.AuthPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}

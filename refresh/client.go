package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrUnauthorized = errors.New("refresh unauthorized")
	ErrServer       = errors.New("refresh server error")
	ErrNetwork      = errors.New("refresh network error")
	ErrProtocol     = errors.New("refresh protocol error")
)

const maxBodyBytes = 64 << 10

// Request is the body sent to the refresh endpoint.
type Request struct {
	Device          string `json:"device"`
	RememberMe      bool   `json:"remember_me"`
	InactiveSeconds int64  `json:"inactive_seconds"`
}

// Result is a successful refresh response.
type Result struct {
	Token     string
	ExpiresIn time.Duration
}

type response struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// StatusError carries the HTTP status of a rejected call. It unwraps to
// the matching class sentinel.
type StatusError struct {
	Status int
	Body   string
	class  error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: status %d", e.class, e.Status)
	}
	return fmt.Sprintf("%v: status %d: %s", e.class, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return e.class }

// Config configures a Client.
type Config struct {
	BaseURL     string
	RefreshPath string
	VerifyPath  string
	// HTTPClient carries the refresh credential (cookie jar or transport).
	// Defaults to a client with a 10s timeout.
	HTTPClient *http.Client
	Header     http.Header
}

// Client calls the refresh and verification endpoints.
type Client struct {
	http       *http.Client
	refreshURL string
	verifyURL  string
	header     http.Header
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("refresh base URL is required")
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = "/auth/refresh"
	}
	if cfg.VerifyPath == "" {
		cfg.VerifyPath = "/auth/verify"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		http:       cfg.HTTPClient,
		refreshURL: base + cfg.RefreshPath,
		verifyURL:  base + cfg.VerifyPath,
		header:     cfg.Header.Clone(),
	}, nil
}

// Refresh exchanges the out-of-band refresh credential for a new bearer
// token.
func (c *Client) Refresh(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	raw, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: response has no token", ErrProtocol)
	}

	return &Result{
		Token:     resp.Token,
		ExpiresIn: time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}

// Verify asks the backend whether token is still accepted.
func (c *Client) Verify(ctx context.Context, token string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.verifyURL, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	_, err = c.do(httpReq)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if class := classify(resp.StatusCode); class != nil {
		return nil, &StatusError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(raw)),
			class:  class,
		}
	}
	return raw, nil
}

func classify(status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrUnauthorized
	case status >= 500:
		return ErrServer
	case status < 200 || status >= 300:
		return ErrProtocol
	default:
		return nil
	}
}

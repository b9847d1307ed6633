package csrf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrFetch       = errors.New("anti-forgery token fetch failed")
	ErrEmptyToken  = errors.New("anti-forgery endpoint returned no token")
	ErrUnavailable = errors.New("anti-forgery endpoint unavailable")
)

// Token is a freshly fetched anti-forgery token.
type Token struct {
	Value     string
	ExpiresIn time.Duration
}

// Fetcher obtains a new anti-forgery token from the backend.
type Fetcher interface {
	Fetch(ctx context.Context) (*Token, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (*Token, error)

func (f FetcherFunc) Fetch(ctx context.Context) (*Token, error) { return f(ctx) }

// HTTPFetcher GETs URL and decodes {"token", "expiresInSeconds"}.
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	var body struct {
		Token            string `json:"token"`
		ExpiresInSeconds int64  `json:"expiresInSeconds"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<10)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if body.Token == "" {
		return nil, ErrEmptyToken
	}

	return &Token{
		Value:     body.Token,
		ExpiresIn: time.Duration(body.ExpiresInSeconds) * time.Second,
	}, nil
}

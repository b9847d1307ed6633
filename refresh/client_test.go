package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL + "/", Header: http.Header{"X-Client": {"test"}}})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestClientRefreshSuccess(t *testing.T) {
	var got Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/refresh" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Client") != "test" {
			t.Error("configured header missing")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1", "expires_in": 900})
	})

	res, err := c.Refresh(context.Background(), Request{Device: "desktop", RememberMe: true, InactiveSeconds: 42})
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if res.Token != "tok-1" || res.ExpiresIn != 15*time.Minute {
		t.Fatalf("unexpected result %+v", res)
	}
	if got.Device != "desktop" || !got.RememberMe || got.InactiveSeconds != 42 {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestClientRefreshClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, want: ErrUnauthorized},
		{name: "server", status: http.StatusBadGateway, want: ErrServer},
		{name: "missing token", status: http.StatusOK, body: `{"expires_in":60}`, want: ErrProtocol},
		{name: "garbage", status: http.StatusOK, body: `not json`, want: ErrProtocol},
		{name: "unexpected status", status: http.StatusTeapot, want: ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Refresh(context.Background(), Request{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestClientStatusErrorCarriesStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session revoked", http.StatusUnauthorized)
	})

	_, err := c.Refresh(context.Background(), Request{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %T", err)
	}
	if se.Status != http.StatusUnauthorized || se.Body != "session revoked" {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: url})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := c.Refresh(context.Background(), Request{}); !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestClientVerify(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.Verify(context.Background(), "good"); err != nil {
		t.Fatalf("Verify(good) failed: %v", err)
	}
	if err := c.Verify(context.Background(), "bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Verify(bad) = %v, want ErrUnauthorized", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

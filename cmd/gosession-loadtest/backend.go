package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/clock"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/middleware"
	"github.com/google/uuid"
)

var errRotated = errors.New("token issued before rotation")

// backend is an in-process auth server: it mints bearer tokens on refresh,
// hands out anti-forgery tokens and guards a resource endpoint. Rotate
// invalidates every token issued before the call.
type backend struct {
	srv    *httptest.Server
	issuer *jwt.Issuer
	ttl    time.Duration

	refreshes atomic.Int64
	csrfIssue atomic.Int64
	minIssued atomic.Int64

	mu   sync.RWMutex
	csrf map[string]time.Time
}

func newBackend(ttl time.Duration) (*backend, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	iss, err := jwt.NewIssuer(jwt.Config{
		SigningMethod: jwt.MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "gosession-loadtest",
		KeyID:         "lt-1",
	})
	if err != nil {
		return nil, err
	}

	b := &backend{issuer: iss, ttl: ttl, csrf: make(map[string]time.Time)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", b.handleRefresh)
	mux.Handle("GET /auth/verify", middleware.Guard(b, clock.Real())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	mux.HandleFunc("GET /csrf", b.handleCSRF)
	mux.Handle("/api/", middleware.Guard(b, clock.Real())(
		middleware.RequireCSRF(middleware.DefaultCSRFHeader, b.validCSRF)(http.HandlerFunc(b.handleResource)),
	))

	b.srv = httptest.NewServer(mux)
	return b, nil
}

func (b *backend) URL() string { return b.srv.URL }

func (b *backend) Close() { b.srv.Close() }

// Verify accepts tokens signed by the issuer and issued after the last
// rotation.
func (b *backend) Verify(token string, now time.Time) (*jwt.Claims, error) {
	claims, err := b.issuer.Verify(token, now)
	if err != nil {
		return nil, err
	}
	if claims.IssuedAt.UnixNano() < b.minIssued.Load() {
		return nil, errRotated
	}
	return claims, nil
}

func (b *backend) Rotate() {
	// Tokens carry second precision; anything issued in this second or
	// earlier is rejected.
	b.minIssued.Store(time.Now().Truncate(time.Second).Add(time.Second).UnixNano())
}

func (b *backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshes.Add(1)

	now := time.Now()
	if floor := time.Unix(0, b.minIssued.Load()); now.Before(floor) {
		// Wait out the rotation second so the new token is accepted.
		time.Sleep(floor.Sub(now))
		now = time.Now()
	}

	tok, err := b.issuer.Issue("loadtest-user", now, b.ttl, map[string]any{"sid": uuid.NewString()})
	if err != nil {
		http.Error(w, "issue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"token": tok, "expires_in": int64(b.ttl / time.Second)})
}

func (b *backend) handleCSRF(w http.ResponseWriter, _ *http.Request) {
	b.csrfIssue.Add(1)
	v := uuid.NewString()

	b.mu.Lock()
	b.csrf[v] = time.Now().Add(10 * time.Minute)
	b.mu.Unlock()

	writeJSON(w, map[string]any{"token": v, "expiresInSeconds": 600})
}

func (b *backend) validCSRF(v string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	exp, ok := b.csrf[v]
	return ok && time.Now().Before(exp)
}

func (b *backend) handleResource(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, map[string]any{"items": []string{"a", "b"}})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

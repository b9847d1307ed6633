package goSession

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/refresh"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(CodeTokenRevoked, "gone", nil))
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatal("expected match on code")
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatal("unexpected match on different code")
	}
	if CodeOf(err) != CodeTokenRevoked {
		t.Fatalf("unexpected code %s", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors map to unknown")
	}
}

func TestClassifyRefreshError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"unauthorized", fmt.Errorf("%w: status 401", refresh.ErrUnauthorized), CodeUnauthorized},
		{"server", fmt.Errorf("%w: status 502", refresh.ErrServer), CodeServerError},
		{"network", fmt.Errorf("%w: reset", refresh.ErrNetwork), CodeNetworkError},
		{"protocol", fmt.Errorf("%w: bad json", refresh.ErrProtocol), CodeInvalidToken},
		{"deadline", context.DeadlineExceeded, CodeNetworkError},
		{"passthrough", breakerError(time.Unix(0, 0)), CodeCircuitBreakerTripped},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyRefreshError(tc.err).Code; got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	e := &Error{Code: CodeServerError, Message: "refresh failed", Status: 503}
	if got := e.Error(); got != "SERVER_ERROR: refresh failed (status 503)" {
		t.Fatalf("unexpected message %q", got)
	}
}

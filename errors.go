package goSession

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the machine-checkable class of an [Error].
type ErrorCode string

const (
	CodeRefreshFailed         ErrorCode = "REFRESH_FAILED"
	CodeNetworkError          ErrorCode = "NETWORK_ERROR"
	CodeInvalidToken          ErrorCode = "INVALID_TOKEN"
	CodeExpiredToken          ErrorCode = "EXPIRED_TOKEN"
	CodeServerError           ErrorCode = "SERVER_ERROR"
	CodeUnauthorized          ErrorCode = "UNAUTHORIZED"
	CodeCircuitBreakerTripped ErrorCode = "CIRCUIT_BREAKER_TRIPPED"
	CodeMaxRetriesExceeded    ErrorCode = "MAX_RETRIES_EXCEEDED"
	CodeTokenRevoked          ErrorCode = "TOKEN_REVOKED"
	CodeUnknown               ErrorCode = "UNKNOWN_ERROR"
)

// Error is returned by every Manager operation that fails. errors.Is
// matches it against the sentinels below by Code.
//
//	var e *goSession.Error
//	if errors.As(err, &e) && e.Code == goSession.CodeCircuitBreakerTripped {
//		time.Sleep(time.Until(e.ResetAt))
//	}
type Error struct {
	Code ErrorCode
	// Status is the HTTP status returned by the backend, if any.
	Status int
	// ResetAt is set for CodeCircuitBreakerTripped.
	ResetAt time.Time
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrRefreshFailed         = &Error{Code: CodeRefreshFailed}
	ErrNetwork               = &Error{Code: CodeNetworkError}
	ErrInvalidToken          = &Error{Code: CodeInvalidToken}
	ErrExpiredToken          = &Error{Code: CodeExpiredToken}
	ErrServer                = &Error{Code: CodeServerError}
	ErrUnauthorized          = &Error{Code: CodeUnauthorized}
	ErrCircuitBreakerTripped = &Error{Code: CodeCircuitBreakerTripped}
	ErrMaxRetriesExceeded    = &Error{Code: CodeMaxRetriesExceeded}
	ErrTokenRevoked          = &Error{Code: CodeTokenRevoked}
	ErrUnknown               = &Error{Code: CodeUnknown}
)

var (
	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("session manager closed")
	// ErrNoRefresher is returned by Build when no refresh client is configured.
	ErrNoRefresher = errors.New("refresher required")
	// ErrNoVerifier is returned by VerifyToken when no verifier is configured.
	ErrNoVerifier = errors.New("verifier not configured")
)

func newError(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}

// CodeOf returns the ErrorCode carried by err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

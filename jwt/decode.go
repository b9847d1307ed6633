package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned when the token is not a decodable JWT.
	ErrMalformed = errors.New("malformed token")
	// ErrMissingExpiry is returned when the token carries no exp claim.
	ErrMissingExpiry = errors.New("token has no expiry")
)

var registered = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "nbf": {}, "iat": {}, "jti": {},
}

// Claims is the decoded view of a bearer token.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]any
}

// Lifetime returns ExpiresAt - IssuedAt, or zero when iat is absent.
func (c *Claims) Lifetime() time.Duration {
	if c == nil || c.IssuedAt.IsZero() {
		return 0
	}
	return c.ExpiresAt.Sub(c.IssuedAt)
}

// Decode parses raw without verifying its signature. The exp claim is
// required; a missing iat is tolerated and left zero.
func Decode(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}

	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, mc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if exp == nil {
		return nil, ErrMissingExpiry
	}

	out := &Claims{ExpiresAt: exp.Time}

	iat, err := mc.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if iat != nil {
		out.IssuedAt = iat.Time
	}

	if out.Subject, err = mc.GetSubject(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	for k, v := range mc {
		if _, ok := registered[k]; ok {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(mc))
		}
		out.Extra[k] = v
	}

	return out, nil
}

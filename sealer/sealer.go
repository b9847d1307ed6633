// Package sealer provides the reversible encode/decode primitive applied to
// token material before it reaches storage shared between execution
// contexts.
//
// The token manager does not depend on any particular scheme. [AESGCM]
// gives authenticated encryption with a PBKDF2-derived key; [Nop] passes
// values through unchanged.
package sealer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrOpen is returned when a sealed value cannot be decoded.
var ErrOpen = errors.New("sealed value could not be opened")

// Sealer encodes a value for shared storage and decodes it back.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// Nop is the identity Sealer.
type Nop struct{}

func (Nop) Seal(plain string) (string, error) { return plain, nil }

func (Nop) Open(sealed string) (string, error) { return sealed, nil }

const (
	pbkdf2Iterations = 10000
	keyLength        = 32
)

var defaultSalt = []byte("gosession-sealer")

// AESGCM seals values with AES-256-GCM and a random nonce per call. Output is
// base64url without padding. Safe for concurrent use.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM derives a 256-bit key from passphrase with PBKDF2-SHA256.
func NewAESGCM(passphrase string) (*AESGCM, error) {
	return NewAESGCMWithSalt(passphrase, defaultSalt)
}

// NewAESGCMWithSalt is NewAESGCM with a caller-chosen salt. Every context
// sharing the storage medium must use the same passphrase and salt.
func NewAESGCMWithSalt(passphrase string, salt []byte) (*AESGCM, error) {
	if passphrase == "" {
		return nil, errors.New("sealer passphrase cannot be empty")
	}
	if len(salt) == 0 {
		return nil, errors.New("sealer salt cannot be empty")
	}

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &AESGCM{aead: aead}, nil
}

func (s *AESGCM) Seal(plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *AESGCM) Open(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOpen, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("%w: ciphertext too short", ErrOpen)
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return string(plain), nil
}

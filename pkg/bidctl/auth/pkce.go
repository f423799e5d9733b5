package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const (
	// 32 bytes gives 256 bits of entropy and a 43 character verifier.
	pkceVerifierBytes = 32

	PKCEMethodS256 = "S256"
)

// PKCECodes is the verifier/challenge pair of a single login attempt.
// The verifier stays in memory and is never persisted.
type PKCECodes struct {
	Verifier  string
	Challenge string
	Method    string
}

// GeneratePKCE returns a fresh S256 pair from crypto/rand.
func GeneratePKCE() (*PKCECodes, error) {
	verifier, err := randomToken(pkceVerifierBytes)
	if err != nil {
		return nil, err
	}
	return &PKCECodes{
		Verifier:  verifier,
		Challenge: S256Challenge(verifier),
		Method:    PKCEMethodS256,
	}, nil
}

// S256Challenge derives the code challenge for verifier.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Matches reports whether the verifier hashes to challenge.
func (p *PKCECodes) Matches(challenge string) bool {
	if p == nil || p.Verifier == "" || challenge == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(S256Challenge(p.Verifier)), []byte(challenge)) == 1
}

// String never prints the verifier.
func (p *PKCECodes) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("PKCECodes{Challenge: %s, Method: %s}", p.Challenge, p.Method)
}

func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

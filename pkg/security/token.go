package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const sessionTokenBytes = 32

// NewSessionToken returns a random hex token for a recovery link. Only its
// digest is persisted.
func NewSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DigestToken returns the lookup digest stored for a raw session token.
func DigestToken(token string) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// TokenMatches compares a raw token to a stored digest in constant time.
func TokenMatches(token, digest string) bool {
	computed := DigestToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature reports whether header carries the HMAC of payload.
func ValidSignature(payload []byte, secret, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(header)))
}

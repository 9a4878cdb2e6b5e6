package id

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// TokenBytes is the default token size: 256 bits of entropy.
const TokenBytes = 32

// MinTokenBytes is the smallest accepted token size (128 bits).
const MinTokenBytes = 16

// ErrTokenEntropy is returned when the system random source fails.
var ErrTokenEntropy = errors.New("id: failed to read random bytes")

// NewToken returns a base64url (unpadded) token carrying n random bytes.
// Sizes below MinTokenBytes are raised to MinTokenBytes.
func NewToken(n int) (string, error) {
	n = max(n, MinTokenBytes)
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(ErrTokenEntropy, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

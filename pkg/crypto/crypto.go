package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// ErrInvalidLength is returned when a token of zero or negative size is requested.
var ErrInvalidLength = errors.New("crypto: token length must be positive")

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidLength
	}
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// MustGenerateToken is GenerateToken for fixtures and defaults where a
// failing system random source is unrecoverable.
func MustGenerateToken(length int) string {
	token, err := GenerateToken(length)
	if err != nil {
		panic(err)
	}
	return token
}

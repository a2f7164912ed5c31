package csrf

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// TokenBytes is the entropy of a generated token.
const TokenBytes = 32

// TokenSource mints new tokens.
type TokenSource interface {
	NewToken() (string, error)
}

// RandomTokens draws tokens from crypto/rand. The zero value is ready to use.
type RandomTokens struct {
	// Reader overrides the entropy source; nil means crypto/rand.Reader.
	Reader io.Reader
}

// NewToken returns TokenBytes random bytes, hex encoded.
func (s RandomTokens) NewToken() (string, error) {
	r := s.Reader
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, TokenBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("csrf: read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

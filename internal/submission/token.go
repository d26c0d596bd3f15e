package submission

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Token is the secret identifying a submission for its anonymous owner. It is
// unrelated to the session bearer token.
type Token string

// NewToken returns a random 256-bit token, hex encoded.
func NewToken() (Token, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate submission token: %w", err)
	}
	return Token(hex.EncodeToString(buf)), nil
}

// ParseToken trims a token pasted from a link. Full links are accepted and the
// token segment is extracted.
func ParseToken(s string) Token {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "/")
	for _, suffix := range []string{"/confirmation", "/edit", "/cancel"} {
		s = strings.TrimSuffix(s, suffix)
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return Token(s)
}

func (t Token) Empty() bool {
	return strings.TrimSpace(string(t)) == ""
}

// String keeps tokens out of logs.
func (t Token) String() string {
	if len(t) <= 8 {
		return "****"
	}
	return string(t[:4]) + "****"
}

// Value returns the raw token for the wire.
func (t Token) Value() string {
	return string(t)
}

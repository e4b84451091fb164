package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
)

// authenticate performs a constant-time shared-secret comparison. This is
// a one-line boundary check, not a token format, so crypto/hmac is the
// right tool rather than reaching for a JWT library here.
func authenticate(provided, secret string) bool {
	if provided == "" || secret == "" {
		return false
	}
	sum := func(s string) [32]byte { return sha256.Sum256([]byte(s)) }
	a, b := sum(provided), sum(secret)
	return hmac.Equal(a[:], b[:])
}

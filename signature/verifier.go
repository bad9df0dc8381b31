package signature

import "crypto/hmac"

// Verify checks a received signature against the expected signature for the
// payload. Comparison is constant-time.
func Verify(payload []byte, secret, received string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(received))
}

// Package signature provides HMAC-SHA256 signing and verification for
// outbound notification payloads.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign generates the HMAC-SHA256 signature for the given payload.
// Returns a versioned signature in the format "v1=<hex>".
//
// The signature is computed once when a delivery job is created and stays
// constant across retry attempts, so receivers can deduplicate on it.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Package ingress is C2: the HTTP surface that receives board webhooks,
// verifies their signature, classifies them as actionable or not, records
// every event (optionally fanning it out to the broker), and enqueues
// actionable ones through the queue manager. Grounded on the teacher's internal/http/middleware.auth.go token
// extraction and internal/services/auth.go for signature verification
// style, generalized from bearer-token user auth to HMAC webhook signing.
package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// VerifyHMACSignature checks an HMAC-SHA256 signature the board computed
// over the raw request body using the shared webhook secret, the same
// scheme GitHub/Monday-style webhook providers use. The expected header
// value is "sha256=<hex digest>".
func VerifyHMACSignature(secret string, body []byte, headerValue string) error {
	if secret == "" {
		return fmt.Errorf("webhook secret not configured")
	}
	const prefix = "sha256="
	if len(headerValue) <= len(prefix) || headerValue[:len(prefix)] != prefix {
		return fmt.Errorf("malformed signature header")
	}
	want := headerValue[len(prefix):]

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	got := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(got), []byte(want)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

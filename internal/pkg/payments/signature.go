package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignPayload produces the hex HMAC-SHA256 request signature the gateway
// expects: the payload concatenated with the unix timestamp, keyed with the
// merchant secret.
func SignPayload(payload []byte, timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	mac.Write([]byte(fmt.Sprintf("%d", timestamp)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks the hex HMAC-SHA256 signature header of an
// inbound notification against the shared secret.
func VerifyWebhookSignature(payload []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || strings.TrimSpace(secret) == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// SecretsEqual compares two shared secrets in constant time.
func SecretsEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// IdempotencyKey derives the dedup key for a webhook delivery as a
// deterministic function of the gateway order id, the event type and the raw
// payload. Redelivered notifications hash to the same key and lose the
// unique-constraint race in the ledger.
func IdempotencyKey(gatewayOrderID, eventType string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(gatewayOrderID))
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignWebhook computes the hex-encoded HMAC-SHA256 signature of payload
// under secret, the outbound half of spec §5's ingress authenticity check
// for inbound tool-result webhooks.
func SignWebhook(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature reports whether signature is the correct
// hex-encoded HMAC-SHA256 of payload under secret, comparing in constant
// time to avoid leaking the valid signature through response timing.
func VerifyWebhookSignature(secret, payload []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	got := mac.Sum(nil)
	return hmac.Equal(want, got)
}

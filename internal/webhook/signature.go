package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signaturePrefix is GitHub's scheme marker in X-Hub-Signature-256.
const signaturePrefix = "sha256="

// SignPayload computes the GitHub-style HMAC-SHA256 signature for a
// delivery body.
func SignPayload(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a delivery signature in constant time. An empty
// secret disables verification (local development only).
func VerifySignature(secret, body []byte, signature string) bool {
	if len(secret) == 0 {
		return true
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

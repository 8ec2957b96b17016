package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// Verify checks an HMAC-SHA256 signature over the raw request body.
// The header may be bare hex or "sha256=<hex>". Malformed input is a failed
// verification, never an error.
func Verify(rawBody []byte, signatureHeader string, secret []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if len(secret) == 0 {
		return false
	}
	sig := strings.TrimSpace(signatureHeader)
	if len(sig) >= len(signaturePrefix) && strings.EqualFold(sig[:len(signaturePrefix)], signaturePrefix) {
		sig = sig[len(signaturePrefix):]
	}
	if sig == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(rawBody, secret))
}

// Sign returns the raw HMAC-SHA256 digest of body.
func Sign(body, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign encoded as lowercase hex, the form senders put on the wire.
func SignHex(body, secret []byte) string {
	return hex.EncodeToString(Sign(body, secret))
}

package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Verify checks a hex-encoded HMAC-SHA256 signature against the raw request
// body. The signature may carry GitHub's "sha256=" prefix or be bare hex.
// Fails closed: an empty secret or empty signature never verifies.
func Verify(body []byte, provided, secret string) bool {
	if secret == "" || provided == "" {
		return false
	}
	provided = strings.TrimPrefix(provided, "sha256=")

	// hmac.Equal on the decoded bytes keeps the comparison constant-time.
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

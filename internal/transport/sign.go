package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Request headers carried by every peer call.
const (
	HeaderKey       = "X-Remote-Key"
	HeaderSignature = "X-Remote-Signature"
	HeaderTimestamp = "X-Remote-Timestamp"
	HeaderRequestID = "X-Request-ID"
)

const DefaultSkew = 5 * time.Minute

// Sign returns the hex HMAC-SHA256 of timestamp followed by body.
func Sign(timestamp string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign. The timestamp is Unix seconds
// and must lie within skew of now in either direction.
func Verify(timestamp string, body []byte, signature, secret string, now time.Time, skew time.Duration) error {
	if timestamp == "" || signature == "" || secret == "" {
		return ErrMissingCredentials
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if skew <= 0 {
		skew = DefaultSkew
	}
	diff := now.Sub(time.Unix(ts, 0))
	if diff > skew || diff < -skew {
		return ErrTimestampSkew
	}

	given, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	expected, _ := hex.DecodeString(Sign(timestamp, body, secret))
	if !hmac.Equal(given, expected) {
		return ErrInvalidSignature
	}
	return nil
}

// Package signature signs outbound webhook bodies and checks inbound shared
// secrets.
//
// Outbound signatures are HMAC-SHA256 over "<timestamp>.<body>", hex
// encoded and sent as
//
//	X-Webhook-Timestamp: 1767225600
//	X-Webhook-Signature: sha256=<hex digest>
//
// Receivers recompute the digest with the shared secret and compare in
// constant time. Verify does exactly that and is what the tests use.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"automation-engine/internal/common/errors"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"

	prefix = "sha256="
)

// Signer produces signature headers for a fixed secret.
type Signer struct {
	secret []byte
}

// NewSigner returns nil for an empty secret; a nil Signer signs nothing.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret)}
}

// Headers returns the headers to attach to a delivery of body at ts.
func (s *Signer) Headers(body []byte, ts time.Time) map[string]string {
	if s == nil {
		return nil
	}
	stamp := strconv.FormatInt(ts.Unix(), 10)
	return map[string]string{
		HeaderTimestamp: stamp,
		HeaderSignature: prefix + s.digest(stamp, body),
	}
}

func (s *Signer) digest(stamp string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(stamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value against body and stamp. maxAge of
// zero disables the timestamp window check.
func Verify(secret string, body []byte, stamp, header string, now time.Time, maxAge time.Duration) error {
	if secret == "" {
		return errors.ConfigError("signing secret is empty")
	}
	if !strings.HasPrefix(header, prefix) {
		return errors.AuthError("missing sha256 signature")
	}
	if maxAge > 0 {
		sec, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			return errors.AuthError("invalid signature timestamp")
		}
		age := now.Sub(time.Unix(sec, 0))
		if age > maxAge || age < -maxAge {
			return errors.AuthError("signature timestamp outside tolerance")
		}
	}
	expected := (&Signer{secret: []byte(secret)}).digest(stamp, body)
	if !hmac.Equal([]byte(strings.TrimPrefix(header, prefix)), []byte(expected)) {
		return errors.AuthError("signature mismatch")
	}
	return nil
}

// SecretMatches compares a presented shared secret with the expected one in
// constant time. An empty expected secret never matches.
func SecretMatches(expected, presented string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}

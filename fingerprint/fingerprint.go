// Package fingerprint derives stable per-device identifiers for quota keying.
//
// The identity is a server-secret digest of the caller's IP and user agent,
// pinned by a signed cookie so it survives address changes. The cookie and
// the address fallback always resolve to the same key, so a device keeps one
// quota record across its first cookie round-trip. Client-supplied
// fingerprints are never trusted.
package fingerprint

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CookieName is the cookie carrying the signed device token.
const CookieName = "device_fp"

// Service signs and verifies device tokens with a server-held secret.
type Service struct {
	secret []byte
}

// NewService creates a fingerprint service.
func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// Resolve returns the device fingerprint for a request. When the presented
// cookie is valid its token is the fingerprint, so the identity sticks even
// if the client moves address. Otherwise the fingerprint is derived from
// (ip, user-agent) and a cookie signing that same value is issued: the key a
// device resolves to never changes when its cookie starts round-tripping.
func (s *Service) Resolve(cookieValue, ip, userAgent string) (deviceID, setCookie string) {
	if token, ok := s.verify(cookieValue); ok {
		return token, cookieValue
	}
	deviceID = s.digest("addr", ip+"\n"+userAgent)
	return deviceID, s.sign(deviceID)
}

// sign produces "token.signature".
func (s *Service) sign(token string) string {
	return token + "." + s.digest("cookie", token)
}

// verify splits and checks a signed cookie value, returning the token.
func (s *Service) verify(value string) (string, bool) {
	token, sig, ok := strings.Cut(value, ".")
	if !ok || token == "" {
		return "", false
	}
	want := s.digest("cookie", token)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", false
	}
	return token, true
}

// digest computes a namespaced HMAC-SHA256 over the payload.
func (s *Service) digest(namespace, payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(namespace))
	mac.Write([]byte{0})
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

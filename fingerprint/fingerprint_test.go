package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWithoutCookie(t *testing.T) {
	svc := NewService("test-secret")

	deviceID, setCookie := svc.Resolve("", "203.0.113.7", "Mozilla/5.0")
	require.NotEmpty(t, deviceID)
	require.NotEmpty(t, setCookie)
	assert.Contains(t, setCookie, ".")

	// The address fallback is stable across requests from the same client.
	deviceID2, _ := svc.Resolve("", "203.0.113.7", "Mozilla/5.0")
	assert.Equal(t, deviceID, deviceID2)

	// Different clients map to different keys.
	other, _ := svc.Resolve("", "198.51.100.9", "Mozilla/5.0")
	assert.NotEqual(t, deviceID, other)
}

func TestResolveCookieRoundTrip(t *testing.T) {
	svc := NewService("test-secret")

	first, cookie := svc.Resolve("", "203.0.113.7", "Mozilla/5.0")

	// The quota key must not change once the issued cookie starts coming
	// back: cookie-based and address-based resolution agree.
	second, refreshed := svc.Resolve(cookie, "203.0.113.7", "Mozilla/5.0")
	assert.Equal(t, first, second)
	assert.Equal(t, cookie, refreshed)

	// With the cookie the identity sticks to the token, regardless of where
	// the client connects from.
	moved, _ := svc.Resolve(cookie, "198.51.100.9", "curl/8.0")
	assert.Equal(t, first, moved)
}

func TestResolveRejectsTamperedCookie(t *testing.T) {
	svc := NewService("test-secret")

	_, cookie := svc.Resolve("", "203.0.113.7", "Mozilla/5.0")
	token, _, ok := strings.Cut(cookie, ".")
	require.True(t, ok)

	tampered := token + ".deadbeef"
	deviceID, setCookie := svc.Resolve(tampered, "203.0.113.7", "Mozilla/5.0")

	// A forged signature falls back to the address key and gets a fresh,
	// properly signed cookie.
	addrID, _ := svc.Resolve("", "203.0.113.7", "Mozilla/5.0")
	assert.Equal(t, addrID, deviceID)
	assert.NotEqual(t, tampered, setCookie)
}

func TestResolveRejectsForeignSecret(t *testing.T) {
	a := NewService("secret-a")
	b := NewService("secret-b")

	_, cookie := a.Resolve("", "203.0.113.7", "Mozilla/5.0")
	_, setCookie := b.Resolve(cookie, "203.0.113.7", "Mozilla/5.0")
	assert.NotEqual(t, cookie, setCookie)
}

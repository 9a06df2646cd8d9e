// Package auth checks the bearer tokens presented to the trigger API.
package auth

import (
	"crypto/subtle"
	"strings"
)

// TokenValidator decides whether a presented token grants access.
type TokenValidator interface {
	Valid(token string) bool
}

// StaticToken accepts exactly one shared secret. The zero value accepts
// every request, which disables authentication.
type StaticToken string

func (s StaticToken) Valid(token string) bool {
	if s == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(s), []byte(token)) == 1
}

// Enabled reports whether a secret is configured.
func (s StaticToken) Enabled() bool { return s != "" }

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ABOUTME: Shared-token authentication for WebSocket upgrades
// ABOUTME: Token from query parameter, custom header or bearer header
package relay

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenHeader carries the shared token for clients that cannot set a query
const TokenHeader = "X-Micrelay-Token"

// TokenQueryParam is the query parameter devices append to the URL
const TokenQueryParam = "token"

func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get(TokenQueryParam); token != "" {
		return token
	}
	if token := r.Header.Get(TokenHeader); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// authorized reports whether r carries expected. An empty expected token
// disables authentication.
func authorized(expected string, r *http.Request) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(requestToken(r)), []byte(expected)) == 1
}

// SPDX-License-Identifier: MIT

// Package auth verifies management API keys and tracks failed attempts per
// client for lockout.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ExtractKey retrieves the API key from the request, in priority order:
//  1. Header: X-Api-Key (the native convention)
//  2. Header: Authorization: Bearer <key>
//  3. Query: ?apikey= (only when allowQuery is set; keys end up in proxy
//     logs, so this stays opt-in)
func ExtractKey(r *http.Request, allowQuery bool) string {
	if k := r.Header.Get("X-Api-Key"); k != "" {
		return k
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if allowQuery {
		if k := r.URL.Query().Get("apikey"); k != "" {
			return k
		}
	}
	return ""
}

// VerifyKey reports whether got matches expected in constant time. An empty
// expected key means no key is configured; every request is refused rather
// than let a misconfiguration open the API.
func VerifyKey(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

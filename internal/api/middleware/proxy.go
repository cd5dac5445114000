// SPDX-License-Identifier: MIT

package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ParseCIDRs parses a list of IPs or CIDR ranges into networks. Bare IPs are
// widened to /32 (or /128 for IPv6).
func ParseCIDRs(values []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !strings.Contains(v, "/") {
			if ip := net.ParseIP(v); ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				v = fmt.Sprintf("%s/%d", v, bits)
			}
		}
		_, ipnet, err := net.ParseCIDR(v)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", v, err)
		}
		out = append(out, ipnet)
	}
	return out, nil
}

// RealIP resolves the originating client IP once per request and stores it in
// the context. X-Forwarded-For / X-Real-IP are honoured only when the direct
// peer is inside a trusted network; otherwise the socket address wins, so an
// untrusted client cannot spoof its way past IP-keyed rate limits or lockouts.
func RealIP(trusted []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, trusted)
			ctx := context.WithValue(r.Context(), clientIPKey{}, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the client IP resolved by RealIP, falling back to the
// socket address when the middleware did not run.
func ClientIP(r *http.Request) string {
	if v, ok := r.Context().Value(clientIPKey{}).(string); ok && v != "" {
		return v
	}
	return remoteHost(r.RemoteAddr)
}

func resolveClientIP(r *http.Request, trusted []*net.IPNet) string {
	if peerIsTrusted(r.RemoteAddr, trusted) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
			return xr
		}
	}
	return remoteHost(r.RemoteAddr)
}

func peerIsTrusted(remote string, trusted []*net.IPNet) bool {
	if len(trusted) == 0 {
		return false
	}
	ip := net.ParseIP(remoteHost(remote))
	if ip == nil {
		return false
	}
	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func remoteHost(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err == nil && host != "" {
		return host
	}
	return remote
}

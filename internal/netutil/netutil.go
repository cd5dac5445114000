// SPDX-License-Identifier: MIT

// Package netutil canonicalizes connector base URLs so the store's
// uniqueness constraint compares normal forms and the upstream client never
// sees a malformed endpoint.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidBaseURL wraps every validation failure in this package.
var ErrInvalidBaseURL = errors.New("invalid base url")

// NormalizeBaseURL canonicalizes a connector base URL: scheme and host
// lowercased, internationalized hosts punycoded, default ports dropped,
// trailing slashes trimmed. Userinfo, query strings and fragments are
// rejected; connectors authenticate with an API key, not URL credentials.
func NormalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBaseURL)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q (want http or https)", ErrInvalidBaseURL, u.Scheme)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: credentials belong in the api key, not the url", ErrInvalidBaseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w: query and fragment not allowed", ErrInvalidBaseURL)
	}

	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return "", err
	}

	port := u.Port()
	if port != "" {
		n, perr := strconv.Atoi(port)
		if perr != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("%w: port %q", ErrInvalidBaseURL, port)
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		}
	}

	path := strings.TrimRight(u.Path, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	switch {
	case port != "":
		b.WriteString(net.JoinHostPort(host, port))
	case strings.Contains(host, ":"):
		b.WriteString("[" + host + "]")
	default:
		b.WriteString(host)
	}
	b.WriteString(path)
	return b.String(), nil
}

// IsLocalClient reports whether a client address sits on loopback, a
// private range, or link-local space. The auth middleware's local-bypass
// mode keys off this; addr may carry a port.
func IsLocalClient(addr string) bool {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// NormalizeHost canonicalizes a bare hostname or IP literal: brackets and
// trailing dots stripped, IPs rendered in their compact form, names
// punycoded and lowercased. Unroutable addresses (unspecified, multicast)
// are rejected; loopback and private ranges are fine, that is where
// connectors live.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("%w: empty host", ErrInvalidBaseURL)
	}
	if strings.ContainsAny(host, "/@") {
		return "", fmt.Errorf("%w: host %q", ErrInvalidBaseURL, raw)
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("%w: zone identifiers not supported", ErrInvalidBaseURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsUnspecified() || ip.IsMulticast() {
			return "", fmt.Errorf("%w: unroutable address %s", ErrInvalidBaseURL, ip)
		}
		return strings.ToLower(ip.String()), nil
	}
	if strings.Contains(host, ":") {
		return "", fmt.Errorf("%w: host %q must not carry a port", ErrInvalidBaseURL, raw)
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: host %q: %v", ErrInvalidBaseURL, raw, err)
	}
	return strings.ToLower(ascii), nil
}

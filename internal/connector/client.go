// SPDX-License-Identifier: MIT

// Package connector implements the typed HTTP clients for upstream media
// services (Sonarr, Radarr, Whisparr, plus Prowlarr health probes). Every
// error leaving this package is classified into the closed taxonomy in
// errors.go; callers dispatch on sentinels, never on raw transport errors.
package connector

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/text/unicode/norm"

	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/metrics"
)

const (
	defaultTimeout = 30 * time.Second
	pingTimeout    = 5 * time.Second
	maxErrorBody   = 4096
	wantedPageSize = 200
	queuePageSize  = 1000
)

// Client talks to one upstream service instance.
type Client struct {
	base   string
	apiKey string
	typ    Type
	http   *http.Client
}

// Option tunes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout overrides the end-to-end request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New builds a client for the given upstream. baseURL carries scheme, host
// and optional port; trailing slashes are ignored.
func New(baseURL, apiKey string, typ Type, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		typ:    typ,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Type returns the variant tag the client dispatches on.
func (c *Client) Type() Type { return c.typ }

// BaseURL returns the configured upstream base URL.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) loggerFor(ctx context.Context) zerolog.Logger {
	return log.WithComponentFromContext(ctx, "connector.client")
}

func (c *Client) api(path string) string {
	return c.typ.APIBasePath() + path
}

// do performs one upstream request and classifies every failure. A nil error
// guarantees a 2xx response whose body is returned in full.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload interface{}, op string) ([]byte, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, &APIError{Sentinel: ErrServer, Operation: op, Message: "encode request", Err: err}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, &APIError{Sentinel: ErrNetwork, Cause: CauseUnknown, Operation: op, Err: err}
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger := c.loggerFor(ctx)
	start := time.Now()
	res, err := c.http.Do(req)
	metrics.ObserveUpstreamLatency(op, time.Since(start).Seconds())
	if err != nil {
		apiErr := classifyTransport(op, err)
		metrics.RecordUpstreamRequest(op, outcome(apiErr))
		logger.Warn().
			Str("event", "connector.request_failed").
			Str("operation", op).
			Str("cause", string(apiErr.Cause)).
			Err(apiErr).
			Msg("upstream request failed")
		return nil, apiErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		apiErr := classifyStatus(op, res.StatusCode, raw, res.Header)
		metrics.RecordUpstreamRequest(op, outcome(apiErr))
		logger.Warn().
			Str("event", "connector.request_rejected").
			Str("operation", op).
			Int("status", res.StatusCode).
			Err(apiErr).
			Msg("upstream rejected request")
		return nil, apiErr
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		apiErr := &APIError{Sentinel: ErrNetwork, Cause: CauseUnknown, Operation: op, Err: err}
		metrics.RecordUpstreamRequest(op, outcome(apiErr))
		return nil, apiErr
	}
	metrics.RecordUpstreamRequest(op, "ok")
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, op string, out interface{}) error {
	data, err := c.do(ctx, http.MethodGet, path, query, nil, op)
	if err != nil {
		return err
	}
	return unmarshalPayload(data, out, op)
}

func unmarshalPayload(data []byte, out interface{}, op string) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Sentinel: ErrServer, Operation: op, Message: "malformed response", Err: err}
	}
	return nil
}

// classifyTransport maps client-side transport failures into the taxonomy.
func classifyTransport(op string, err error) *APIError {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &APIError{Sentinel: ErrTimeout, Operation: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Sentinel: ErrTimeout, Operation: op, Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &APIError{Sentinel: ErrNetwork, Cause: CauseDNSFailure, Operation: op, Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &APIError{Sentinel: ErrNetwork, Cause: CauseConnRefused, Operation: op, Err: err}
	}

	var (
		certVerify  *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostname    x509.HostnameError
		certInvalid x509.CertificateInvalidError
		recordHdr   tls.RecordHeaderError
	)
	if errors.As(err, &certVerify) || errors.As(err, &unknownAuth) ||
		errors.As(err, &hostname) || errors.As(err, &certInvalid) ||
		errors.As(err, &recordHdr) {
		return &APIError{Sentinel: ErrNetwork, Cause: CauseTLSFailure, Operation: op, Err: err}
	}

	return &APIError{Sentinel: ErrNetwork, Cause: CauseUnknown, Operation: op, Err: err}
}

// classifyStatus maps upstream HTTP statuses into the taxonomy.
func classifyStatus(op string, status int, body []byte, header http.Header) *APIError {
	message := extractMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &APIError{Sentinel: ErrAuthFailed, Operation: op, Status: status, Message: message}
	case status == http.StatusNotFound:
		return &APIError{Sentinel: ErrNotFound, Operation: op, Status: status, Message: message}
	case status == http.StatusTooManyRequests:
		return &APIError{
			Sentinel:   ErrRateLimited,
			Operation:  op,
			Status:     status,
			Message:    message,
			RetryAfter: parseRetryAfter(header.Get("Retry-After")),
		}
	default:
		return &APIError{Sentinel: ErrServer, Operation: op, Status: status, Message: message}
	}
}

// parseRetryAfter honours the integer-seconds form; anything else yields zero
// and the governor falls back to the profile's pause duration.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func extractMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func outcome(err *APIError) string {
	switch {
	case errors.Is(err.Sentinel, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err.Sentinel, ErrNotFound):
		return "not_found"
	case errors.Is(err.Sentinel, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err.Sentinel, ErrTimeout):
		return "timeout"
	case errors.Is(err.Sentinel, ErrNetwork):
		return "network"
	default:
		return "server"
	}
}

// normTitle canonicalises upstream titles to NFC before they reach the
// mirror, so byte-level comparisons behave across differently-encoded
// upstream databases.
func normTitle(s string) string {
	return norm.NFC.String(s)
}

// Ping probes upstream liveness with a short deadline. The endpoint sits at
// the server root, outside the versioned API prefix.
func (c *Client) Ping(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pingTimeout)
		defer cancel()
	}
	_, err := c.do(ctx, http.MethodGet, "/ping", nil, nil, "ping")
	return err
}

// SystemStatus fetches the upstream identity payload.
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var status SystemStatus
	if err := c.getJSON(ctx, c.api("/system/status"), nil, "systemStatus", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// guardSearchable rejects operations a health-only variant cannot perform.
func (c *Client) guardSearchable(op string) error {
	if !c.typ.Searchable() {
		return &APIError{Sentinel: ErrUnsupported, Operation: op, Message: fmt.Sprintf("connector type %q", c.typ)}
	}
	return nil
}

// Package delivery performs a single network delivery attempt of a queued
// mutation. It knows nothing about retries or the queue; callers decide what
// a failure means.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/habitsync/internal/mutation"
)

// Deliverer attempts delivery of one mutation.
type Deliverer interface {
	// Deliver returns nil only when the backing service accepted the mutation.
	Deliver(ctx context.Context, m mutation.QueuedMutation) error
}

// DeliverFunc adapts a function to Deliverer.
type DeliverFunc func(ctx context.Context, m mutation.QueuedMutation) error

// Deliver implements Deliverer.
func (fn DeliverFunc) Deliver(ctx context.Context, m mutation.QueuedMutation) error {
	return fn(ctx, m)
}

// DeliveryError reports a failed attempt: a non-2xx response (StatusCode set)
// or a transport failure (StatusCode zero). Always retryable.
type DeliveryError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver %s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("deliver %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

const (
	defaultTimeout   = 20 * time.Second
	maxDrainedBody   = 64 << 10
	defaultUserAgent = "habitsync"

	// idempotencyHeader defaults to the mutation id unless the caller set one.
	idempotencyHeader = "Idempotency-Key"
)

// HTTPOptions configures an HTTP deliverer.
type HTTPOptions struct {
	// BaseURL resolves relative targets such as "/api/logs". Absolute targets are used as-is.
	BaseURL string
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
	// Timeout bounds a single attempt. Defaults to 20s.
	Timeout   time.Duration
	UserAgent string
}

// HTTP delivers mutations as plain HTTP requests.
type HTTP struct {
	base       *url.URL
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
}

// NewHTTP constructs an HTTP deliverer.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	var base *url.URL
	if raw := strings.TrimSpace(opts.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("base url %q must be absolute", raw)
		}
		base = u
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &HTTP{
		base:       base,
		httpClient: httpClient,
		timeout:    timeout,
		userAgent:  userAgent,
	}, nil
}

// Resolve returns the absolute URL for a mutation target.
func (d *HTTP) Resolve(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse target %q: %w", target, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if d.base == nil {
		return "", fmt.Errorf("relative target %q without base url", target)
	}
	return d.base.ResolveReference(ref).String(), nil
}

// Deliver sends m and classifies the outcome. Any 2xx is success.
func (d *HTTP) Deliver(ctx context.Context, m mutation.QueuedMutation) error {
	target, err := d.Resolve(m.Target)
	if err != nil {
		return &DeliveryError{Method: m.Method, URL: m.Target, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var body io.Reader
	if m.Body != nil {
		body = bytes.NewReader(m.Body)
	}
	req, err := http.NewRequestWithContext(ctx, m.Method, target, body)
	if err != nil {
		return &DeliveryError{Method: m.Method, URL: target, Err: err}
	}
	for _, h := range m.Headers {
		req.Header.Add(h.Name, h.Value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	if _, ok := m.HeaderValue(idempotencyHeader); !ok {
		req.Header.Set(idempotencyHeader, m.ID)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Method: m.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainedBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{
			Method:     m.Method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}
	return nil
}

package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Defaults for ProberOptions.
const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// ErrProbeURLRequired is returned by NewProber without a URL.
var ErrProbeURLRequired = errors.New("probe url is required")

// ProberOptions configures a Prober.
type ProberOptions struct {
	URL        string
	Interval   time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Prober is the signal source for a daemon process: it periodically
// issues a HEAD request and feeds the outcome into an Observer. Any HTTP
// response counts as online; only a transport failure counts as offline.
type Prober struct {
	observer *Observer
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
}

// NewProber creates a prober that reports into o.
func NewProber(o *Observer, opts ProberOptions) (*Prober, error) {
	if opts.URL == "" {
		return nil, ErrProbeURLRequired
	}
	u, err := url.Parse(opts.URL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("probe url %q must be absolute", opts.URL)
	}

	p := &Prober{
		observer: o,
		url:      opts.URL,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		client:   opts.HTTPClient,
	}
	if p.interval <= 0 {
		p.interval = DefaultProbeInterval
	}
	if p.timeout <= 0 {
		p.timeout = DefaultProbeTimeout
	}
	if p.client == nil {
		p.client = http.DefaultClient
	}
	return p, nil
}

// Probe runs one check and reports the observed state.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		slog.Warn("probe request invalid", "url", p.url, "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		slog.Debug("probe failed", "url", p.url, "error", err)
		return false
	}
	resp.Body.Close()
	return true
}

// Run probes immediately and then every interval, until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	slog.Info("connectivity prober starting", "url", p.url, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.observer.Set(ctx, p.Probe(ctx))

		select {
		case <-ctx.Done():
			slog.Info("connectivity prober stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

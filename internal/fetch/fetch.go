// Package fetch implements the acquisition engine's HTTP Fetcher: the
// component that turns a URL and an optional conditional cursor into a
// FetchOutcome, routed through the Rate-Limit Governor and, optionally, a
// SOCKS or HTTP proxy or a remote browser-rendering collaborator.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"github.com/lueurxax/foia-acquired/internal/platform/observability"
	"github.com/lueurxax/foia-acquired/internal/ratelimit"
	"github.com/lueurxax/foia-acquired/internal/storage"
)

// OutcomeKind classifies the result of a fetch attempt (spec.md §4.2).
type OutcomeKind int

const (
	OutcomeFresh OutcomeKind = iota
	OutcomeNotModified
	OutcomeTransportError
	OutcomeHTTPError
)

const (
	maxRedirects      = 5
	defaultTimeout    = 30 * time.Second
	defaultMaxBodyMB  = 64
	defaultMaxBody    = defaultMaxBodyMB * 1024 * 1024
	headerETag        = "ETag"
	headerLastMod     = "Last-Modified"
	headerIfNoneMatch = "If-None-Match"
	headerIfModSince  = "If-Modified-Since"
)

// ErrBodyTooLarge indicates a response body exceeded the Fetcher's cap.
var ErrBodyTooLarge = errors.New("fetch: response body exceeds maximum size")

// Cursor carries the conditional-request validators a prior fetch of this
// URL returned, letting the server answer 304 on a refresh.
type Cursor struct {
	ETag         string
	LastModified string
}

// Outcome is the result of one fetch attempt.
type Outcome struct {
	Kind         OutcomeKind
	Body         []byte
	MimeType     string
	FinalURL     string
	Headers      http.Header
	ServerDate   *time.Time
	StatusCode   int
	ETag         string
	LastModified string
	Err          error
}

// BrowserDelegate renders url through an external headless-browser
// collaborator and returns the resulting bytes, consumed identically to a
// direct HTTP body (spec.md §4.2's "browser-required fetches").
type BrowserDelegate func(ctx context.Context, url string) ([]byte, error)

// Fetcher performs governed, conditional, optionally proxied HTTP fetches
// and records every attempt as a CrawlRequest audit row.
type Fetcher struct {
	client    *http.Client
	governor  *ratelimit.Governor
	db        *storage.DB
	logger    *zerolog.Logger
	userAgent string
	maxBody   int64
	browser   BrowserDelegate
}

// Option configures a Fetcher at construction time.
type Option func(*Fetcher)

// WithBrowserDelegate wires in a remote-browser capability for sources that
// require rendered fetches.
func WithBrowserDelegate(d BrowserDelegate) Option {
	return func(f *Fetcher) { f.browser = d }
}

// WithMaxBodyBytes overrides the default response size cap.
func WithMaxBodyBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// New builds a Fetcher. socksProxyURL, if non-empty, routes every outbound
// request through a SOCKS5h proxy (hostname resolution happens at the
// proxy, never locally — spec.md §6). timeout <= 0 selects defaultTimeout.
func New(db *storage.DB, gov *ratelimit.Governor, userAgent, socksProxyURL string, timeout time.Duration, logger *zerolog.Logger, opts ...Option) (*Fetcher, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()

	if socksProxyURL != "" {
		dialer, err := socksDialer(socksProxyURL)
		if err != nil {
			return nil, fmt.Errorf("fetch: configure socks proxy: %w", err)
		}

		transport.DialContext = dialContextFromDialer(dialer)
	}

	f := &Fetcher{
		governor:  gov,
		db:        db,
		logger:    logger,
		userAgent: userAgent,
		maxBody:   defaultMaxBody,
	}

	f.client = &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}

			// Reserve the redirect target's own domain before letting the
			// client follow the hop, the same governed path the initial
			// request took (spec.md §4.2).
			if _, err := f.governor.Reserve(req.Context(), req.URL.Hostname()); err != nil {
				return fmt.Errorf("fetch: reserve redirect target: %w", err)
			}

			return nil
		},
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// ErrTooManyRedirects is returned by net/http's CheckRedirect once the hop
// budget (maxRedirects) is exhausted.
var ErrTooManyRedirects = errors.New("fetch: too many redirects")

// socksDialer builds a proxy.Dialer for a socks5:// or socks5h:// URL.
func socksDialer(rawURL string) (proxy.Dialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}

	return proxy.FromURL(u, proxy.Direct)
}

// dialContextFromDialer adapts a proxy.Dialer (which only has a Dial
// method) into the DialContext signature http.Transport wants.
func dialContextFromDialer(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type contextDialer interface {
			DialContext(ctx context.Context, network, addr string) (net.Conn, error)
		}

		if cd, ok := d.(contextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}

		return d.Dial(network, addr)
	}
}

// Fetch performs a governed fetch of rawURL, applying cursor's conditional
// validators if non-empty, and always records a CrawlRequest audit row.
func (f *Fetcher) Fetch(ctx context.Context, sourceID, rawURL string, cursor Cursor, viaBrowser bool) Outcome {
	start := time.Now()

	if viaBrowser {
		return f.fetchViaBrowser(ctx, sourceID, rawURL, start)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return f.record(sourceID, rawURL, start, Outcome{Kind: OutcomeTransportError, Err: err})
	}

	if _, err := f.governor.Reserve(ctx, u.Hostname()); err != nil {
		return f.record(sourceID, rawURL, start, Outcome{Kind: OutcomeTransportError, Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return f.record(sourceID, rawURL, start, Outcome{Kind: OutcomeTransportError, Err: err})
	}

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	wasConditional := cursor.ETag != "" || cursor.LastModified != ""
	if cursor.ETag != "" {
		req.Header.Set(headerIfNoneMatch, cursor.ETag)
	}

	if cursor.LastModified != "" {
		req.Header.Set(headerIfModSince, cursor.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		_ = f.governor.Report(ctx, u.Hostname(), classifyGovernorOutcome(nil, err))

		outcome := Outcome{Kind: OutcomeTransportError, Err: err}
		f.recordAudit(ctx, sourceID, rawURL, req, nil, start, wasConditional, false, err)
		observability.FetchRequestsTotal.WithLabelValues(u.Hostname(), "transport_error").Inc()

		return outcome
	}
	defer func() { _ = resp.Body.Close() }()

	_ = f.governor.Report(ctx, u.Hostname(), classifyGovernorOutcome(resp, nil))

	outcome := f.classify(resp, cursor, wasConditional)
	f.recordAudit(ctx, sourceID, rawURL, req, resp, start, wasConditional, outcome.Kind == OutcomeNotModified, outcome.Err)
	observability.FetchRequestDuration.WithLabelValues(u.Hostname(), outcomeLabel(outcome.Kind)).Observe(time.Since(start).Seconds())
	observability.FetchRequestsTotal.WithLabelValues(u.Hostname(), outcomeLabel(outcome.Kind)).Inc()

	return outcome
}

// Get performs an unconditional fetch and returns the body directly,
// satisfying discovery.Fetcher so Discovery Strategies ride through the
// same governed, audited path as the Crawl Engine rather than bypassing
// it with a raw net/http client.
func (f *Fetcher) Get(ctx context.Context, sourceID, url string) ([]byte, string, error) {
	outcome := f.Fetch(ctx, sourceID, url, Cursor{}, false)

	switch outcome.Kind {
	case OutcomeFresh:
		return outcome.Body, outcome.MimeType, nil
	case OutcomeHTTPError:
		return nil, "", fmt.Errorf("fetch: http %d fetching %s", outcome.StatusCode, url)
	default:
		if outcome.Err != nil {
			return nil, "", outcome.Err
		}

		return nil, "", fmt.Errorf("fetch: unexpected outcome fetching %s", url)
	}
}

func (f *Fetcher) classify(resp *http.Response, cursor Cursor, wasConditional bool) Outcome {
	if resp.StatusCode == http.StatusNotModified {
		return Outcome{
			Kind: OutcomeNotModified, StatusCode: resp.StatusCode, Headers: resp.Header,
			ETag: cursor.ETag, LastModified: cursor.LastModified,
		}
	}

	if resp.StatusCode >= 400 {
		return Outcome{Kind: OutcomeHTTPError, StatusCode: resp.StatusCode, Headers: resp.Header}
	}

	body, err := readCapped(resp.Body, f.maxBody)
	if err != nil {
		return Outcome{Kind: OutcomeTransportError, StatusCode: resp.StatusCode, Err: err}
	}

	var serverDate *time.Time

	if raw := resp.Header.Get(headerLastMod); raw != "" {
		if t, err := dateparse.ParseAny(raw); err == nil {
			serverDate = &t
		}
	}

	return Outcome{
		Kind: OutcomeFresh, Body: body, MimeType: resp.Header.Get("Content-Type"),
		FinalURL: resp.Request.URL.String(), Headers: resp.Header, StatusCode: resp.StatusCode,
		ETag: resp.Header.Get(headerETag), LastModified: resp.Header.Get(headerLastMod), ServerDate: serverDate,
	}
}

func (f *Fetcher) fetchViaBrowser(ctx context.Context, sourceID, rawURL string, start time.Time) Outcome {
	if f.browser == nil {
		err := errors.New("fetch: browser-required fetch but no browser delegate configured")
		return f.record(sourceID, rawURL, start, Outcome{Kind: OutcomeTransportError, Err: err})
	}

	u, parseErr := url.Parse(rawURL)
	if parseErr == nil {
		if _, err := f.governor.Reserve(ctx, u.Hostname()); err != nil {
			return f.record(sourceID, rawURL, start, Outcome{Kind: OutcomeTransportError, Err: err})
		}
	}

	body, err := f.browser(ctx, rawURL)

	var outcome Outcome
	if err != nil {
		outcome = Outcome{Kind: OutcomeTransportError, Err: err}
	} else {
		outcome = Outcome{Kind: OutcomeFresh, Body: body, FinalURL: rawURL, MimeType: detectContentType(body)}
	}

	statusCode := 0
	if outcome.Kind == OutcomeFresh {
		statusCode = http.StatusOK
	}

	_ = f.db.RecordCrawlRequest(ctx, storage.CrawlRequest{
		SourceID: sourceID, URL: rawURL, Method: "BROWSER",
		StatusCode:   intPtrOrNil(statusCode),
		ResponseSize: int64PtrOrNil(int64(len(outcome.Body))),
		DurationMS:   int64Ptr(time.Since(start).Milliseconds()),
		Error:        errStringPtr(err),
	})

	return outcome
}

func (f *Fetcher) record(sourceID, rawURL string, start time.Time, o Outcome) Outcome {
	_ = f.db.RecordCrawlRequest(context.Background(), storage.CrawlRequest{
		SourceID: sourceID, URL: rawURL, Method: http.MethodGet,
		DurationMS: int64Ptr(time.Since(start).Milliseconds()),
		Error:      errStringPtr(o.Err),
	})

	return o
}

func (f *Fetcher) recordAudit(ctx context.Context, sourceID, rawURL string, req *http.Request, resp *http.Response, start time.Time, wasConditional, wasNotModified bool, fetchErr error) {
	rec := storage.CrawlRequest{
		SourceID:       sourceID,
		URL:            rawURL,
		Method:         http.MethodGet,
		DurationMS:     int64Ptr(time.Since(start).Milliseconds()),
		WasConditional: wasConditional,
		WasNotModified: wasNotModified,
		Error:          errStringPtr(fetchErr),
	}

	if resp != nil {
		rec.StatusCode = intPtrOrNil(resp.StatusCode)
	}

	if err := f.db.RecordCrawlRequest(ctx, rec); err != nil {
		f.logger.Warn().Err(err).Str("url", rawURL).Msg("failed to record crawl request audit row")
	}
}

func readCapped(r io.Reader, max int64) ([]byte, error) {
	limited := io.LimitReader(r, max+1)

	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if int64(len(data)) > max {
		return nil, ErrBodyTooLarge
	}

	return data, nil
}

func detectContentType(body []byte) string {
	return http.DetectContentType(body)
}

func classifyGovernorOutcome(resp *http.Response, transportErr error) ratelimit.Outcome {
	if transportErr != nil {
		return ratelimit.OutcomeTransportError
	}

	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return ratelimit.OutcomeRateLimited
	}

	return ratelimit.OutcomeSuccess
}

func outcomeLabel(k OutcomeKind) string {
	switch k {
	case OutcomeFresh:
		return "fresh"
	case OutcomeNotModified:
		return "not_modified"
	case OutcomeHTTPError:
		return "http_error"
	default:
		return "transport_error"
	}
}

func intPtrOrNil(n int) *int {
	if n == 0 {
		return nil
	}

	return &n
}

func int64Ptr(n int64) *int64 { return &n }

func int64PtrOrNil(n int64) *int64 {
	if n == 0 {
		return nil
	}

	return &n
}

func errStringPtr(err error) *string {
	if err == nil {
		return nil
	}

	s := err.Error()

	return &s
}

// Package scrape implements the hybrid article scraper: a fast static HTTP
// fetch first, with a rendering fallback for pages that fail the content
// sufficiency check.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmarin/newswatch/internal/feeds"
	"github.com/dmarin/newswatch/internal/logging"
)

// Method records which path produced the content.
type Method string

const (
	MethodStatic Method = "static"
	MethodRender Method = "render"
)

// Content is the scraped article body, owned by the worker processing the stub.
type Content struct {
	Stub      feeds.Stub
	Text      string
	Method    Method
	FetchedAt time.Time
}

// Error classifies a scrape failure. Permanent failures (404, paywall) drop
// the item; transient ones were already retried with backoff before
// surfacing.
type Error struct {
	URL       string
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("scrape %s (%s): %v", e.URL, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent scrape failure.
func IsPermanent(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Permanent
}

// Renderer fetches fully-rendered HTML after dynamic content settles.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// userAgents rotates per request so sources don't fingerprint us as a bot.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/119.0",
}

// Options configures a Scraper.
type Options struct {
	StaticTimeout time.Duration
	MaxRetries    int           // transient retry bound on the static path
	MinTextLen    int           // content sufficiency threshold
	Renderer      Renderer      // nil disables the rendering fallback
	RenderTimeout time.Duration // hard cap on one render attempt
}

// Scraper fetches full article text for a stub.
type Scraper struct {
	client        *http.Client
	renderer      Renderer
	renderTimeout time.Duration
	minTextLen    int
	maxRetries    int
}

// New creates a Scraper from options, applying defaults for zero values.
func New(opts Options) *Scraper {
	if opts.StaticTimeout <= 0 {
		opts.StaticTimeout = 10 * time.Second
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 20 * time.Second
	}
	if opts.MinTextLen <= 0 {
		opts.MinTextLen = 300
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	return &Scraper{
		client:        &http.Client{Timeout: opts.StaticTimeout},
		renderer:      opts.Renderer,
		renderTimeout: opts.RenderTimeout,
		minTextLen:    opts.MinTextLen,
		maxRetries:    opts.MaxRetries,
	}
}

// Scrape runs the hybrid algorithm: static fetch, sufficiency check, render
// fallback. Returns Content on success or a classified *Error.
func (s *Scraper) Scrape(ctx context.Context, stub feeds.Stub) (Content, error) {
	html, err := s.fetchStatic(ctx, stub.URL)
	if err != nil {
		return Content{}, err
	}

	text := ExtractText(html, stub.URL)
	if paywalled(text) {
		return Content{}, &Error{URL: stub.URL, Permanent: true, Err: fmt.Errorf("paywall marker in content")}
	}
	if sufficient(text, s.minTextLen) {
		return Content{Stub: stub, Text: text, Method: MethodStatic, FetchedAt: time.Now()}, nil
	}

	if s.renderer == nil {
		return Content{}, &Error{URL: stub.URL, Permanent: true, Err: fmt.Errorf("static content insufficient (%d chars) and rendering disabled", len(text))}
	}

	logging.Debug("Static content insufficient, falling back to render", "url", stub.URL, "chars", len(text))

	renderCtx, cancel := context.WithTimeout(ctx, s.renderTimeout)
	defer cancel()

	html, err = s.renderer.Render(renderCtx, stub.URL)
	if err != nil {
		return Content{}, &Error{URL: stub.URL, Permanent: false, Err: fmt.Errorf("render: %w", err)}
	}

	text = ExtractText(html, stub.URL)
	if paywalled(text) {
		return Content{}, &Error{URL: stub.URL, Permanent: true, Err: fmt.Errorf("paywall marker in rendered content")}
	}
	if !sufficient(text, s.minTextLen) {
		return Content{}, &Error{URL: stub.URL, Permanent: true, Err: fmt.Errorf("rendered content still insufficient (%d chars)", len(text))}
	}

	return Content{Stub: stub, Text: text, Method: MethodRender, FetchedAt: time.Now()}, nil
}

// fetchStatic performs the lightweight HTTP fetch with bounded retries.
// Transient failures (network errors, 5xx, 429) back off exponentially;
// permanent HTTP statuses short-circuit.
func (s *Scraper) fetchStatic(ctx context.Context, url string) (string, error) {
	var html string

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Referer", "https://www.google.com/")

		resp, err := s.client.Do(req)
		if err != nil {
			return err // connection errors are retryable
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		default:
			// 404, 403, 410, robots challenges: retrying won't help
			return backoff.Permanent(&Error{URL: url, Permanent: true, Err: fmt.Errorf("HTTP %d", resp.StatusCode)})
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
		if err != nil {
			return err
		}

		html = string(body)
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.maxRetries)),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		var se *Error
		if errors.As(err, &se) {
			return "", se
		}
		return "", &Error{URL: url, Permanent: false, Err: err}
	}

	return html, nil
}

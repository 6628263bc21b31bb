// Package download fetches remote files to local paths for the
// extension host, typically package archives ahead of installation.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/infrastructure/resilience"
	"github.com/lattice-editor/exthost/internal/shared/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxRedirects = 5
	stallTimeout = 30 * time.Second
)

var (
	errTooManyRedirects = errors.New("too many redirects")
	errNotFoundRedirect = errors.New("redirected to error page")
	errStalled          = errors.New("download stalled")
)

// Client downloads URLs to local files with retry, rate limiting, and
// circuit breaker protection.
type Client struct {
	resty     *resty.Client
	limiter   *rate.Limiter
	breaker   *resilience.Breaker
	transport *stallTransport
	log       *logging.Logger
}

// NewClient builds a download client. Redirects are followed up to five
// hops; a redirect landing on an "error" path is treated as not found.
// There is no total deadline: a large archive may take minutes, but a
// body that stops flowing for the stall window is cut off.
func NewClient(log *logging.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = nil

	if base, ok := retryClient.HTTPClient.Transport.(*http.Transport); ok {
		base.ResponseHeaderTimeout = stallTimeout
	}
	transport := newStallTransport(retryClient.HTTPClient.Transport, stallTimeout)

	restyClient := resty.New()
	restyClient.
		SetHeader("User-Agent", "exthost-download/1.0").
		SetTransport(transport).
		SetRedirectPolicy(resty.RedirectPolicyFunc(redirectPolicy))

	breaker := resilience.New("download", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
	})

	return &Client{
		resty:     restyClient,
		limiter:   rate.NewLimiter(rate.Inf, 0),
		breaker:   breaker,
		transport: transport,
		log:       log.Named("download"),
	}
}

// SetStallTimeout adjusts how long a response body may go without
// progress before the download is aborted.
func (c *Client) SetStallTimeout(d time.Duration) {
	c.transport.window.Store(int64(d))
}

// SetRateLimit caps downloads at the given requests per second. Zero or
// negative removes the cap.
func (c *Client) SetRateLimit(rps float64) {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// stallTransport cancels a request whose response body makes no progress
// for longer than the stall window.
type stallTransport struct {
	next   http.RoundTripper
	window atomic.Int64 // nanoseconds
}

func newStallTransport(next http.RoundTripper, window time.Duration) *stallTransport {
	t := &stallTransport{next: next}
	t.window.Store(int64(window))
	return t
}

func (t *stallTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancel(req.Context())
	resp, err := t.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}

	body := &stallBody{
		inner:  resp.Body,
		window: time.Duration(t.window.Load()),
		cancel: cancel,
	}
	body.timer = time.AfterFunc(body.window, func() {
		body.stalled.Store(true)
		cancel()
	})
	resp.Body = body
	return resp, nil
}

// stallBody arms a watchdog that each productive read pushes forward.
// When the watchdog fires it cancels the request, and the resulting
// read error is reported as errStalled.
type stallBody struct {
	inner   io.ReadCloser
	window  time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	stalled atomic.Bool
}

func (b *stallBody) Read(p []byte) (int, error) {
	n, err := b.inner.Read(p)
	if n > 0 {
		b.timer.Reset(b.window)
	}
	if err != nil && err != io.EOF && b.stalled.Load() {
		return n, errStalled
	}
	return n, err
}

func (b *stallBody) Close() error {
	b.timer.Stop()
	b.cancel()
	return b.inner.Close()
}

// redirectPolicy bounds the hop count and rejects redirects that land on
// an error page. Relative targets are already resolved against the
// previous request by the transport.
func redirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errTooManyRedirects
	}
	for _, segment := range strings.Split(req.URL.Path, "/") {
		if segment == "error" {
			return errNotFoundRedirect
		}
	}
	return nil
}

// FetchToFile streams a URL's body into destPath. Any partial file is
// removed on failure.
func (c *Client) FetchToFile(ctx context.Context, url, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return &types.DownloadError{URL: url, Reason: "destination directory", Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &types.DownloadError{URL: url, Reason: "rate limit", Err: err}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.resty.R().
			SetContext(ctx).
			SetOutput(destPath).
			Get(url)
	})
	if err != nil {
		os.Remove(destPath)
		return classify(url, err)
	}

	resp := result.(*resty.Response)
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		os.Remove(destPath)
		return &types.DownloadError{URL: url,
			Reason: fmt.Sprintf("bad status %d", resp.StatusCode())}
	}

	c.log.Info("download complete",
		zap.String("url", url),
		zap.String("path", destPath),
		zap.Int64("ms", resp.Time().Milliseconds()))
	return nil
}

func classify(url string, err error) error {
	switch {
	case errors.Is(err, errTooManyRedirects):
		return &types.DownloadError{URL: url, Reason: "too many redirects", Err: err}
	case errors.Is(err, errNotFoundRedirect):
		return &types.DownloadError{URL: url, Reason: "not found", Err: err}
	case errors.Is(err, resilience.ErrCircuitOpen):
		return &types.DownloadError{URL: url, Reason: "circuit open", Err: err}
	case errors.Is(err, errStalled), errors.Is(err, context.DeadlineExceeded):
		return &types.DownloadError{URL: url, Reason: "timeout", Err: err}
	default:
		return &types.DownloadError{URL: url, Reason: "request failed", Err: err}
	}
}

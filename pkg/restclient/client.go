// Package restclient implements a per-account rate-limited REST client:
// a global token-bucket budget plus a per-bucket concurrency-1 limit,
// 429/5xx/network retry with backoff, and cancellation propagation into
// both rate-limit waits and the underlying fetch.
package restclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/chatvault/pkg/log"
	"github.com/cuemby/chatvault/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://discord.com/api/v9"

// Route identifies the (method+path-template) half of a bucket key; the
// resource id (channel/guild/message id the route targets) is appended by
// the caller so two different channels' message-fetch routes don't share
// a bucket.
type Route string

// FetchOpts is the per-request method/body/header bundle passed to Request.
type FetchOpts struct {
	Method string
	Body   []byte
	Header http.Header
}

// Response is what Request resolves to: the raw HTTP response, its body
// (already drained so the caller need not manage the reader lifetime),
// and, if the bucket reported Remaining=0, the deadline it becomes usable
// again.
type Response struct {
	StatusCode       int
	Header           http.Header
	Body             []byte
	RateLimitResetAt *time.Time
}

// FatalError wraps a 401: the caller must disconnect the account.
type FatalError struct{ StatusCode int }

func (e *FatalError) Error() string {
	return fmt.Sprintf("restclient: fatal status %d, account must disconnect", e.StatusCode)
}

// Client is one account's REST client: one global limiter, a shared
// bucket map, and the account's bot/user token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	global     *rate.Limiter
	buckets    *bucketMap
	monitor    *unsettledMonitor
	accountID  string
	logger     zerolog.Logger
}

// Option configures a Client at construction.
type Option func(*Client)

// WithBaseURL overrides the REST origin, for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithGlobalRate overrides the default 50 req/s global budget.
func WithGlobalRate(requestsPerSecond float64) Option {
	return func(c *Client) { c.global = newGlobalLimiter(requestsPerSecond) }
}

// WithHTTPClient overrides the underlying *http.Client, for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a Client for one account's token.
func New(accountID, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		global:     newGlobalLimiter(DefaultGlobalRate),
		buckets:    newBucketMap(),
		monitor:    newUnsettledMonitor(),
		accountID:  accountID,
		logger:     log.WithAccount(accountID),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.monitor.start()
	return c
}

// Close stops the unsettled-request monitor.
func (c *Client) Close() { c.monitor.stop() }

func bucketKey(route Route, resourceID string) string {
	if resourceID == "" {
		return string(route)
	}
	return string(route) + ":" + resourceID
}

// Request issues one rate-limited, retried HTTP request. ctx carries
// both the timeout and the cancellation signal, whether that's a global
// shutdown or a per-operation cancellation handle.
func (c *Client) Request(ctx context.Context, route Route, resourceID, path string, opts FetchOpts) (*Response, error) {
	bucket := c.buckets.get(bucketKey(route, resourceID))

	bucket.occupancy.Lock()
	defer bucket.occupancy.Unlock()

	if resetAt, has := bucket.pendingReset(); has {
		if d := time.Until(resetAt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}
		bucket.clearReset()
	}

	inFlight := c.monitor.begin(string(route) + " " + resourceID)
	defer c.monitor.end(inFlight)

	for attempt := 0; ; attempt++ {
		if err := waitGlobal(ctx, c.global); err != nil {
			return nil, err
		}

		timer := metrics.NewTimer()
		resp, retryAfter, err := c.doOnce(ctx, path, opts)
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("restclient: network error, retrying")
			if !c.sleepBackoff(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}
		timer.ObserveDurationVec(metrics.RESTRequestDuration, string(route))
		metrics.RESTRequestsTotal.WithLabelValues(string(route), strconv.Itoa(resp.StatusCode)).Inc()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			metrics.RESTRateLimitedTotal.WithLabelValues(string(route)).Inc()
			if scope := resp.Header.Get("X-RateLimit-Scope"); scope != "" && scope != "shared" {
				c.logger.Warn().Str("scope", scope).Msg("restclient: 429 with non-shared scope")
			}
			if !c.sleepFor(ctx, retryAfter) {
				return nil, ctx.Err()
			}
			continue
		case resp.StatusCode == http.StatusUnauthorized:
			return resp, &FatalError{StatusCode: resp.StatusCode}
		case resp.StatusCode >= 500:
			if !c.sleepBackoff(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		default:
			// 2xx, 403, 404, and anything else settle here; the caller
			// decides what to do with non-2xx statuses.
			applyRateLimitHeaders(bucket, resp.Header)
			if resetAt, has := bucket.pendingReset(); has {
				resp.RateLimitResetAt = &resetAt
			}
			return resp, nil
		}
	}
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) bool {
	return c.sleepFor(ctx, backoffDelay(attempt))
}

func (c *Client) sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) doOnce(ctx context.Context, path string, opts FetchOpts) (*Response, time.Duration, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("restclient: build request: %w", err)
	}
	for k, vals := range opts.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", c.token)
	if req.Header.Get("Content-Type") == "" && opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("restclient: read body: %w", err)
	}

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = parseRetryAfter(resp.Header)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, retryAfter, nil
}

func parseRetryAfter(h http.Header) time.Duration {
	if s := h.Get("Retry-After"); s != "" {
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	if s := h.Get("X-RateLimit-Reset-After"); s != "" {
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return time.Second
}

// applyRateLimitHeaders records a bucket's reset deadline when the server
// reports it has been exhausted (Remaining=0).
func applyRateLimitHeaders(bucket *bucketState, h http.Header) {
	remaining := h.Get("X-RateLimit-Remaining")
	resetAfter := h.Get("X-RateLimit-Reset-After")
	if remaining != "0" || resetAfter == "" {
		return
	}
	secs, err := strconv.ParseFloat(resetAfter, 64)
	if err != nil {
		return
	}
	bucket.setReset(time.Now().Add(time.Duration(secs * float64(time.Second))))
}

// Package rankings fetches expert consensus rankings from the upstream
// rankings API and bundles a static sample dataset for offline fallback.
package rankings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/aaron/tierhub/internal/metrics"
	"github.com/aaron/tierhub/internal/player"
)

const (
	defaultBaseURL    = "https://api.fantasypros.com/v2/json/nfl"
	defaultPageSize   = 50
	defaultTimeout    = 10 * time.Second
	defaultMinBackoff = time.Second
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	PageSize   int
	MaxRetries int
	// MinBackoff is the outbound pause after a 429 without Retry-After.
	MinBackoff time.Duration
	Clock      clockwork.Clock
	Logger     logrus.FieldLogger
	HTTPClient *http.Client
}

// RateLimit holds rate limit info from response headers.
type RateLimit struct {
	Limit     int
	Remaining int
	ResetMs   int
}

// Client is a rankings API client.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	maxRetries int
	minBackoff time.Duration
	httpClient *http.Client
	clock      clockwork.Clock
	log        logrus.FieldLogger

	mu        sync.Mutex
	notBefore time.Time
}

// NewClient creates a rankings API client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PageSize <= 0 || opts.PageSize > defaultPageSize {
		opts.PageSize = defaultPageSize
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		pageSize:   opts.PageSize,
		maxRetries: max(opts.MaxRetries, 0),
		minBackoff: opts.MinBackoff,
		httpClient: httpClient,
		clock:      opts.Clock,
		log:        opts.Logger.WithField("component", "rankings"),
	}
}

// NewClientWithURL creates a client with a custom base URL and defaults
// for everything else.
func NewClientWithURL(apiKey, baseURL string) *Client {
	return NewClient(Options{APIKey: apiKey, BaseURL: baseURL})
}

// ErrRateLimited is returned when the API returns 429.
type ErrRateLimited struct {
	RetryAfterMs int
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited: retry after %d ms", e.RetryAfterMs)
}

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rankings API error: status %d: %s", e.Code, e.Body)
}

// Get performs a GET request and returns body, rate limit info, and error.
// On 429, returns ErrRateLimited and holds further requests back for the
// Retry-After period (milliseconds, as sent by the rankings API).
func (c *Client) Get(ctx context.Context, path string) ([]byte, *RateLimit, error) {
	if err := c.waitBackoff(ctx); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.WithError(err).Warn("close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	rl := parseRateLimit(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryMs := parseRetryAfter(resp.Header.Get("Retry-After"), c.minBackoff)
		c.setBackoff(time.Duration(retryMs) * time.Millisecond)
		metrics.Upstream429.Add(1)
		metrics.RecordUpstreamRetryAfter(retryMs)
		return nil, rl, &ErrRateLimited{RetryAfterMs: retryMs}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, rl, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	return body, rl, nil
}

func (c *Client) setBackoff(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := c.clock.Now().Add(d)
	if until.After(c.notBefore) {
		c.notBefore = until
	}
}

func (c *Client) waitBackoff(ctx context.Context) error {
	c.mu.Lock()
	wait := c.notBefore.Sub(c.clock.Now())
	c.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(wait):
		return nil
	}
}

func buildPath(base string, params map[string]string) string {
	if len(params) == 0 {
		return base
	}
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return base + "?" + v.Encode()
}

// getAllPages fetches every page of a paginated endpoint and returns the
// decoded rows. It stops at the first page shorter than the page size.
func (c *Client) getAllPages(ctx context.Context, path string, baseParams map[string]string) ([]wirePlayer, error) {
	var all []wirePlayer
	for skip := 0; ; skip += c.pageSize {
		params := make(map[string]string, len(baseParams)+2)
		for k, v := range baseParams {
			params[k] = v
		}
		params["skip"] = strconv.Itoa(skip)
		params["take"] = strconv.Itoa(c.pageSize)

		body, _, err := c.Get(ctx, buildPath(path, params))
		if err != nil {
			return nil, err
		}
		page, err := decodePage(body)
		if err != nil {
			return nil, err
		}
		c.log.WithFields(logrus.Fields{"path": path, "skip": skip, "items": len(page)}).Debug("pagination")
		all = append(all, page...)
		if len(page) < c.pageSize {
			break
		}
	}
	return all, nil
}

// FetchPlayers returns the consensus rankings for key. Network errors and
// 5xx responses are retried with exponential backoff; other failures are
// returned immediately.
func (c *Client) FetchPlayers(ctx context.Context, key player.Key) ([]player.Record, error) {
	params := map[string]string{
		"position": string(key.Position),
		"scoring":  string(key.Format),
	}
	op := func() ([]player.Record, error) {
		rows, err := c.getAllPages(ctx, "/rankings", params)
		if err != nil {
			if retryable(err) {
				c.log.WithError(err).WithField("key", key.String()).Warn("transient rankings failure")
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return toRecords(rows, key.Position, c.log), nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	players, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	return players, nil
}

// SampleFallback returns the bundled sample rankings for pos.
func (c *Client) SampleFallback(pos player.Position) []player.Record {
	return Sample(pos)
}

func retryable(err error) bool {
	var rl *ErrRateLimited
	if errors.As(err, &rl) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	var de *decodeError
	if errors.As(err, &de) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func parseRateLimit(h http.Header) *RateLimit {
	rl := &RateLimit{Remaining: -1}
	if v := h.Get("X-RateLimit-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rl.Limit = n
		}
	}
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rl.Remaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rl.ResetMs = n
		}
	}
	return rl
}

func parseRetryAfter(s string, fallback time.Duration) int {
	if s == "" {
		return int(fallback.Milliseconds())
	}
	ms, err := strconv.Atoi(s)
	if err != nil || ms < 0 {
		return int(fallback.Milliseconds())
	}
	return ms
}

// Package github implements a minimal REST client for the pull request and
// review comment listings the sync pipeline consumes. It respects the API's
// rate limit budget and drains paginated listings with a caller-supplied
// callback per record.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/octorules/engine/pkg/retry"
)

// Options configures a Client.
type Options struct {
	BaseURL        string
	Token          string
	PerPage        int
	RateLimitFloor int
	HTTPClient     *http.Client
	Retry          *retry.Config
}

// RateLimit is a snapshot of the API quota from the most recent response.
type RateLimit struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	Reset     time.Time `json:"reset"`
}

// Client talks to the GitHub REST API.
type Client struct {
	baseURL        string
	token          string
	perPage        int
	rateLimitFloor int
	httpClient     *http.Client
	retryCfg       *retry.Config
	logger         *zap.Logger

	// sleepFn is swapped in tests to avoid real waits.
	sleepFn func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	rateLimit RateLimit
}

// NewClient creates a GitHub API client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.github.com"
	}
	if opts.PerPage <= 0 || opts.PerPage > 100 {
		opts.PerPage = 100
	}
	if opts.RateLimitFloor <= 0 {
		opts.RateLimitFloor = 1
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}

	return &Client{
		baseURL:        opts.BaseURL,
		token:          opts.Token,
		perPage:        opts.PerPage,
		rateLimitFloor: opts.RateLimitFloor,
		httpClient:     opts.HTTPClient,
		retryCfg:       opts.Retry,
		logger:         logger.Named("github"),
		sleepFn: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// GetRepository fetches repository metadata for owner/name.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*Repository, error) {
	var repo Repository
	path := fmt.Sprintf("/repos/%s/%s", owner, name)
	if err := c.getJSON(ctx, path, nil, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// ListClosedPullRequests drains every closed pull request of owner/name,
// invoking fn once per record in API order. A non-nil error from fn aborts
// the listing and is returned unchanged.
func (c *Client) ListClosedPullRequests(ctx context.Context, owner, name string, fn func(PullRequest) error) error {
	path := fmt.Sprintf("/repos/%s/%s/pulls", owner, name)
	query := url.Values{
		"state":     {"closed"},
		"sort":      {"updated"},
		"direction": {"desc"},
	}
	return drainPages(ctx, c, path, query, fn)
}

// ListReviewComments drains every review comment of a pull request, invoking
// fn once per record.
func (c *Client) ListReviewComments(ctx context.Context, owner, name string, number int, fn func(ReviewComment) error) error {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/comments", owner, name, number)
	return drainPages(ctx, c, path, nil, fn)
}

// drainPages walks a paginated listing page by page until a short page
// signals the end.
func drainPages[T any](ctx context.Context, c *Client, path string, query url.Values, fn func(T) error) error {
	for page := 1; ; page++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(c.perPage))

		var records []T
		if err := c.getJSON(ctx, path, q, &records); err != nil {
			return err
		}

		for _, rec := range records {
			if err := fn(rec); err != nil {
				return err
			}
		}

		if len(records) < c.perPage {
			return nil
		}
	}
}

// getJSON performs a GET with retry on transient failures, decoding the
// response body into out. It waits out the rate limit window when the
// remaining budget reaches the configured floor.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return retry.DoIfRetryable(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return &FetchError{URL: u, Transient: false, Cause: err}
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &FetchError{URL: u, Transient: true, Cause: err}
		}
		defer resp.Body.Close()

		c.recordRateLimit(resp)

		if waitErr := c.waitForRateLimit(ctx, resp); waitErr != nil {
			return waitErr
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return &FetchError{URL: u, StatusCode: resp.StatusCode, Transient: false,
					Cause: fmt.Errorf("decode response: %w", err)}
			}
			return nil
		case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
			// Budget exhausted mid-window; waitForRateLimit already slept
			// until the reset, so the retry can proceed.
			io.Copy(io.Discard, resp.Body)
			return &FetchError{URL: u, StatusCode: resp.StatusCode, Transient: true}
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			return &FetchError{URL: u, StatusCode: resp.StatusCode, Transient: true}
		default:
			io.Copy(io.Discard, resp.Body)
			return &FetchError{URL: u, StatusCode: resp.StatusCode, Transient: false}
		}
	})
}

// RateLimit returns the quota observed on the most recent API response.
// The zero value means no request has been made yet.
func (c *Client) RateLimit() RateLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimit
}

func (c *Client) recordRateLimit(resp *http.Response) {
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))

	snapshot := RateLimit{Remaining: remaining, Limit: limit}
	if resetUnix, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		snapshot.Reset = time.Unix(resetUnix, 0).UTC()
	}

	c.mu.Lock()
	c.rateLimit = snapshot
	c.mu.Unlock()
}

// waitForRateLimit inspects the rate limit headers and, when the remaining
// budget is at or below the floor, sleeps until just past the reset time.
func (c *Client) waitForRateLimit(ctx context.Context, resp *http.Response) error {
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil || remaining > c.rateLimitFloor {
		return nil
	}

	resetUnix, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return nil
	}

	wait := time.Until(time.Unix(resetUnix, 0)) + time.Second
	if wait <= 0 {
		return nil
	}

	c.logger.Info("Rate limit budget exhausted, pausing fetch",
		zap.Int("remaining", remaining),
		zap.Duration("wait", wait))
	return c.sleepFn(ctx, wait)
}

// Package discord provides a client for the Discord HTTP API, scoped to the
// channel history endpoints this tool needs.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jgrazian/discord-scraper/internal/metrics"
	"github.com/jgrazian/discord-scraper/internal/models"
)

const (
	defaultBaseURL = "https://discord.com/api/v10"
	userAgent      = "MessageScraperBot (1.0.0)"

	// PageSize is the history page limit requested on every call. The API
	// signals end-of-history by returning fewer than this many messages.
	PageSize = 100

	// maxRetries bounds how many times a single request is re-issued after
	// a 429 before the error is surfaced.
	maxRetries = 5

	// retryPad is added to every Retry-After wait to avoid re-hitting the
	// limit on clock skew.
	retryPad = 100 * time.Millisecond
)

// ErrAuthRejected marks a 401/403 from the API. A bad token cannot
// self-correct, so callers abort the whole run on it.
var ErrAuthRejected = errors.New("discord: authentication rejected")

// StatusError captures a non-2xx response that is neither an auth failure
// nor a rate limit.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("discord: unexpected status %d from %s: %s", e.Code, e.URL, e.Body)
}

// apiError is the JSON error body Discord returns on failed requests.
type apiError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`

	// Present on 429 responses; seconds, possibly fractional.
	RetryAfter float64 `json:"retry_after"`
}

// Client is a Discord API client. One request is in flight at a time; the
// service-wide rate limit is respected by blocking on 429 responses.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient creates a client that sends the raw token in the Authorization
// header of every request.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messages fetches one page of channel history, newest-first. An unset
// before cursor starts from the most recent message.
func (c *Client) Messages(ctx context.Context, channelID, before string) ([]models.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(PageSize))
	if before != "" {
		q.Set("before", before)
	}
	path := fmt.Sprintf("/channels/%s/messages?%s", channelID, q.Encode())

	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var page []models.Message
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("discord: decode history page: %w", err)
	}
	return page, nil
}

// Channel fetches a channel's metadata record.
func (c *Client) Channel(ctx context.Context, channelID string) (*models.Channel, error) {
	body, err := c.get(ctx, "/channels/"+channelID)
	if err != nil {
		return nil, err
	}

	var ch models.Channel
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, fmt.Errorf("discord: decode channel: %w", err)
	}
	return &ch, nil
}

// get performs one GET, transparently waiting out rate limits and
// re-issuing the identical request up to maxRetries times.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	reqURL := c.baseURL + path

	for attempt := 0; ; attempt++ {
		body, retryAfter, err := c.doOnce(ctx, reqURL)
		if err == nil {
			return body, nil
		}
		if retryAfter <= 0 {
			return nil, err
		}
		if attempt >= maxRetries {
			return nil, fmt.Errorf("discord: rate limited %d times on %s: %w", attempt+1, reqURL, err)
		}

		metrics.RateLimitWaits.Inc()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		c.sleep(retryAfter + retryPad)
	}
}

// doOnce issues a single request. A positive retryAfter with a non-nil
// error means the request was rate limited and may be retried.
func (c *Client) doOnce(ctx context.Context, reqURL string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("discord: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("discord: read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, 0, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, 0, fmt.Errorf("%w (status %d)", ErrAuthRejected, resp.StatusCode)

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retryAfterOf(resp, body), fmt.Errorf("discord: rate limited on %s", reqURL)

	default:
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Message != "" {
			return nil, 0, &StatusError{Code: resp.StatusCode, URL: reqURL, Body: ae.Message}
		}
		return nil, 0, &StatusError{Code: resp.StatusCode, URL: reqURL, Body: string(body)}
	}
}

// retryAfterOf reads the mandated wait from a 429 response, preferring the
// Retry-After header and falling back to the JSON body. A second is used
// when neither parses.
func retryAfterOf(resp *http.Response, body []byte) time.Duration {
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.ParseFloat(h, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.RetryAfter > 0 {
		return time.Duration(ae.RetryAfter * float64(time.Second))
	}
	return time.Second
}

// Package stats fetches coding activity from the WakaTime API, for one user
// or for every registered user of a server at once.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imMewtable/wakatime-bot/internal/util"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://wakatime.com/api/v1/"
	DefaultTimeout   = 15 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client performs bearer-authenticated GETs against the stats API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		c.baseURL = baseURL
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout bounds each request
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHTTPClient sets the base HTTP client the bearer transport wraps
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new stats client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a failed stats call: non-2xx status, transport failure,
// timeout or an undecodable body.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("wakatime API error: status %d (endpoint: %s): %s", e.StatusCode, e.Endpoint, e.Body)
	}
	return fmt.Sprintf("wakatime API error (endpoint: %s): %v", e.Endpoint, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Fetch returns accessToken's stats for r.
func (c *Client) Fetch(ctx context.Context, accessToken string, r TimeRange) (*Payload, error) {
	p := &Payload{Range: r}
	if r == RangeAllTime {
		p.AllTime = &AllTimeResponse{}
		if err := c.get(ctx, accessToken, "users/current/all_time_since_today", nil, p.AllTime); err != nil {
			return nil, err
		}
		return p, nil
	}

	p.Summaries = &SummariesResponse{}
	params := url.Values{"range": {r.summariesRange()}}
	if err := c.get(ctx, accessToken, "users/current/summaries", params, p.Summaries); err != nil {
		return nil, err
	}
	return p, nil
}

// CurrentUser returns the account accessToken belongs to. A 2xx answer also
// proves the token works.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	var body struct {
		Data User `json:"data"`
	}
	if err := c.get(ctx, accessToken, "users/current", nil, &body); err != nil {
		return nil, err
	}
	return &body.Data, nil
}

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, accessToken, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &APIError{Endpoint: path, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &APIError{Endpoint: path, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, c.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
	)
	resp, err := client.Do(req)
	if err != nil {
		return &APIError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Endpoint: path, Body: util.ErrorBody(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Endpoint: path, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

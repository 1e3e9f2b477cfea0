package wakatime

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultAuthURL     = "https://wakatime.com/oauth/authorize"
	DefaultTokenURL    = "https://wakatime.com/oauth/token"
	DefaultRedirectURL = "https://wakatime.com/oauth/test"
	DefaultTimeout     = 15 * time.Second
)

// DefaultScopes lets the bot read summaries and the all-time total.
var DefaultScopes = []string{"email", "read_stats", "read_logged_time"}

// Client talks to the WakaTime OAuth2 authorization server.
type Client struct {
	config     *oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithEndpoint points the client at other authorize/token URLs.
func WithEndpoint(authURL, tokenURL string) Option {
	return func(c *Client) {
		if authURL != "" {
			c.config.Endpoint.AuthURL = authURL
		}
		if tokenURL != "" {
			c.config.Endpoint.TokenURL = tokenURL
		}
	}
}

// WithHTTPClient replaces the HTTP client used for token requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds every single token request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for the registered WakaTime app.
func NewClient(clientID, clientSecret, redirectURL string, scopes []string, opts ...Option) *Client {
	if redirectURL == "" {
		redirectURL = DefaultRedirectURL
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	c := &Client{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			// WakaTime expects a comma separated scope list, x/oauth2 joins with spaces.
			Scopes: []string{strings.Join(scopes, ",")},
			Endpoint: oauth2.Endpoint{
				AuthURL:   DefaultAuthURL,
				TokenURL:  DefaultTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthorizeURL returns the consent page link carrying state.
func (c *Client) AuthorizeURL(state string) string {
	return c.config.AuthCodeURL(state)
}

// NewState returns a fresh 128-bit hex nonce for one authorize link.
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

package wakatime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/imMewtable/wakatime-bot/internal/util"
)

// maxTokenResponseBytes caps how much of a token response is read.
const maxTokenResponseBytes = 64 << 10

// ErrMalformedResponse means the token endpoint answered 2xx with a body that
// is not a complete key=value token set.
var ErrMalformedResponse = errors.New("malformed token response")

// Tokens is one access/refresh pair issued by the token endpoint.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int
}

// Encode renders t in the form-encoded shape the token endpoint uses.
func (t Tokens) Encode() string {
	v := url.Values{}
	v.Set("access_token", t.AccessToken)
	v.Set("refresh_token", t.RefreshToken)
	if t.TokenType != "" {
		v.Set("token_type", t.TokenType)
	}
	if t.Scope != "" {
		v.Set("scope", t.Scope)
	}
	if t.ExpiresIn > 0 {
		v.Set("expires_in", strconv.Itoa(t.ExpiresIn))
	}
	return v.Encode()
}

// ParseTokenResponse decodes an "a=b&c=d" token body. Every entry must hold a
// key and an '='; access_token and refresh_token must both be present.
func ParseTokenResponse(body string) (Tokens, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Tokens{}, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	fields := make(map[string]string)
	for i, entry := range strings.Split(body, "&") {
		rawKey, rawValue, ok := strings.Cut(entry, "=")
		if !ok || rawKey == "" {
			return Tokens{}, fmt.Errorf("%w: entry %d is not a key=value pair", ErrMalformedResponse, i)
		}
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return Tokens{}, fmt.Errorf("%w: entry %d: %v", ErrMalformedResponse, i, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return Tokens{}, fmt.Errorf("%w: value of %q: %v", ErrMalformedResponse, key, err)
		}
		fields[key] = value
	}

	t := Tokens{
		AccessToken:  fields["access_token"],
		RefreshToken: fields["refresh_token"],
		TokenType:    fields["token_type"],
		Scope:        fields["scope"],
	}
	if t.AccessToken == "" {
		return Tokens{}, fmt.Errorf("%w: missing access_token", ErrMalformedResponse)
	}
	if t.RefreshToken == "" {
		return Tokens{}, fmt.Errorf("%w: missing refresh_token", ErrMalformedResponse)
	}
	if raw := fields["expires_in"]; raw != "" {
		// WakaTime sometimes sends a float here.
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			t.ExpiresIn = int(secs)
		}
	}
	return t, nil
}

// AuthError is a rejected or failed token request.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("wakatime token endpoint (status %d): %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("wakatime token endpoint returned %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("wakatime token request: %v", e.Err)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// Permanent reports whether the grant itself was refused (expired, revoked or
// malformed token), as opposed to a transport failure worth retrying.
func (e *AuthError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	msg := strings.ToLower(e.Body)
	for _, marker := range []string{"invalid_grant", "invalid_client", "unauthorized_client", "revoked"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Exchange trades the authorization code a user pasted for the first token pair.
func (c *Client) Exchange(ctx context.Context, code string) (Tokens, error) {
	return c.requestToken(ctx, url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	})
}

// Refresh trades refreshToken for a new pair. The old refresh token is
// single-use once this succeeds.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	return c.requestToken(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (Tokens, error) {
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", c.config.ClientSecret)
	form.Set("redirect_uri", c.config.RedirectURL)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Tokens{}, &AuthError{Err: fmt.Errorf("build token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Tokens{}, &AuthError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return Tokens{}, &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read token response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Tokens{}, &AuthError{StatusCode: resp.StatusCode, Body: util.ErrorBody(body)}
	}

	tokens, err := ParseTokenResponse(string(body))
	if err != nil {
		return Tokens{}, &AuthError{StatusCode: resp.StatusCode, Err: err}
	}
	return tokens, nil
}

// Package gotrue adapts a GoTrue-compatible auth API (the auth service behind
// Supabase) to the identity.Provider port.
//
// Client is a stateless wrapper over the REST endpoints. Auth layers session
// storage, refresh and auth state notifications on top of it.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mrlokans/authview/internal/identity"
)

const (
	authPathPrefix = "/auth/v1"
	restPathPrefix = "/rest/v1"

	defaultTimeout = 15 * time.Second
	maxErrorBody   = 64 << 10
)

var ErrInvalidConfig = errors.New("gotrue: project URL and anon key are required")

// Config configures a Client.
type Config struct {
	URL        string // project URL, e.g. https://abc.supabase.co
	AnonKey    string
	Timeout    time.Duration
	HTTPClient *http.Client // optional
}

// Client talks to the GoTrue REST API. It is shared by every Auth of a
// process.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	refresh    singleflight.Group
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" || cfg.AnonKey == "" {
		return nil, ErrInvalidConfig
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("gotrue: invalid project URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    base,
		apiKey:     cfg.AnonKey,
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the project URL the client was configured with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gotrue: %s (status %d, %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("gotrue: %s (status %d)", e.Message, e.StatusCode)
}

// IsClientError reports whether the provider rejected the request itself
// (as opposed to failing to serve it).
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// errorBody covers both error shapes GoTrue emits: the newer
// {code, error_code, msg} and the OAuth-style {error, error_description}.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = firstNonEmpty(body.ErrorCode, body.Error, strings.Trim(string(body.Code), `"`))
		apiErr.Message = firstNonEmpty(body.Msg, body.ErrorDescription, body.Message, body.Error)
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Signup registers a new user. The response carries a session when the
// project auto-confirms users, otherwise only the user.
func (c *Client) Signup(ctx context.Context, creds identity.Credentials) (*identity.AuthResult, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, authPathPrefix+"/signup", nil, "", creds, &raw); err != nil {
		return nil, err
	}

	var session identity.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("gotrue: decode signup response: %w", err)
	}
	if session.AccessToken != "" {
		return &identity.AuthResult{User: session.User, Session: &session}, nil
	}

	var user identity.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("gotrue: decode signup user: %w", err)
	}
	return &identity.AuthResult{User: &user}, nil
}

// PasswordGrant exchanges email and password for a session.
func (c *Client) PasswordGrant(ctx context.Context, creds identity.Credentials) (*identity.Session, error) {
	return c.token(ctx, "password", creds)
}

// RefreshGrant exchanges a refresh token for a new session. Concurrent
// calls with the same refresh token share one request, since GoTrue revokes
// the whole session when a used refresh token is presented again. Each
// caller gets its own copy of the session.
func (c *Client) RefreshGrant(ctx context.Context, refreshToken string) (*identity.Session, error) {
	v, err, _ := c.refresh.Do(refreshToken, func() (any, error) {
		// One caller giving up must not fail the others.
		return c.token(context.WithoutCancel(ctx), "refresh_token", map[string]string{"refresh_token": refreshToken})
	})
	if err != nil {
		return nil, err
	}
	session := *v.(*identity.Session)
	return &session, nil
}

// PKCEGrant exchanges an authorization code and its verifier for a session.
func (c *Client) PKCEGrant(ctx context.Context, authCode, codeVerifier string) (*identity.Session, error) {
	return c.token(ctx, "pkce", map[string]string{
		"auth_code":     authCode,
		"code_verifier": codeVerifier,
	})
}

func (c *Client) token(ctx context.Context, grantType string, body any) (*identity.Session, error) {
	query := url.Values{"grant_type": {grantType}}
	var session identity.Session
	if err := c.do(ctx, http.MethodPost, authPathPrefix+"/token", query, "", body, &session); err != nil {
		return nil, err
	}
	if session.AccessToken == "" {
		return nil, fmt.Errorf("gotrue: %s grant returned no access token", grantType)
	}
	return &session, nil
}

// Logout revokes the refresh tokens behind accessToken.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, authPathPrefix+"/logout", nil, accessToken, nil, nil)
}

// User fetches the user owning accessToken.
func (c *Client) User(ctx context.Context, accessToken string) (*identity.User, error) {
	var user identity.User
	if err := c.do(ctx, http.MethodGet, authPathPrefix+"/user", nil, accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Health checks that the auth service is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, authPathPrefix+"/health", nil, "", nil, nil)
}

// AuthorizeURL builds the federated login URL for an external provider
// (e.g. "github") using the PKCE code challenge.
func (c *Client) AuthorizeURL(provider, redirectTo, codeChallenge string) string {
	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	if codeChallenge != "" {
		q.Set("code_challenge", codeChallenge)
		q.Set("code_challenge_method", "s256")
	}
	return c.baseURL + authPathPrefix + "/authorize?" + q.Encode()
}

// InsertRows inserts rows into a PostgREST table without returning them.
func (c *Client) InsertRows(ctx context.Context, table, accessToken string, rows any) error {
	path := restPathPrefix + "/" + url.PathEscape(table)
	return c.doWithHeaders(ctx, http.MethodPost, path, nil, accessToken, rows, nil, map[string]string{
		"Prefer": "return=minimal",
	})
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, accessToken string, body, out any) error {
	return c.doWithHeaders(ctx, method, path, query, accessToken, body, out, nil)
}

func (c *Client) doWithHeaders(ctx context.Context, method, path string, query url.Values, accessToken string, body, out any, headers map[string]string) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gotrue: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("gotrue: create request: %w", err)
	}

	bearer := accessToken
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gotrue: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gotrue: decode response: %w", err)
	}
	return nil
}

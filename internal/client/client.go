// Package client is the Go session client for the auth service. It holds the
// access token in process memory and the refresh token in a TokenStore, and
// transparently performs one refresh-and-retry cycle when a request is
// rejected for an expired or invalid access token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrSessionExpired means the refresh token was missing or rejected; all
// session state has been cleared and the caller should treat the session as
// anonymous.
var ErrSessionExpired = errors.New("session expired")

// APIError is a non-2xx response from the server, carrying the error
// envelope the service returns.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type RegisterResult struct {
	Message string `json:"message"`
	User    struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		CreatedAt string `json:"createdAt"`
	} `json:"user"`
}

type loginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client is a single logical session against the auth service. It is safe
// for concurrent use; concurrent requests that both hit a 401 share one
// refresh call instead of racing the rotation.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	logger     *logrus.Logger

	mu          sync.Mutex
	accessToken string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, tokens TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		tokens:     tokens,
		logger:     logrus.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize restores the session on startup. If a durable refresh token
// exists it is exchanged for a fresh pair and the profile is fetched, in
// sequence. Any failure clears the durable token and the session comes up
// anonymous: the returned user is nil and err is nil.
func (c *Client) Initialize(ctx context.Context) (*User, error) {
	stored, err := c.tokens.Load()
	if err != nil {
		return nil, err
	}
	if stored == "" {
		return nil, nil
	}

	if _, err := c.refreshSession(ctx, ""); err != nil {
		c.logger.WithError(err).Debug("Silent refresh failed, starting anonymous")
		c.clearSession()
		return nil, nil
	}

	user, err := c.Profile(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("Profile fetch failed, starting anonymous")
		c.clearSession()
		return nil, nil
	}
	return user, nil
}

// Register creates an account. It does not log the session in.
func (c *Client) Register(ctx context.Context, email, password string) (*RegisterResult, error) {
	var result RegisterResult
	if err := c.send(ctx, "/user/register", credentialsRequest{Email: email, Password: password}, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Login authenticates and installs the returned pair: access token in
// memory, refresh token in the durable store.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var resp loginResponse
	if err := c.send(ctx, "/auth/login", credentialsRequest{Email: email, Password: password}, "", &resp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.accessToken = resp.AccessToken
	c.mu.Unlock()
	if err := c.tokens.Save(resp.RefreshToken); err != nil {
		return nil, err
	}

	return &resp.User, nil
}

// Logout tells the server to drop the refresh session, then clears local
// state regardless of the server's answer.
func (c *Client) Logout(ctx context.Context) error {
	var msg struct {
		Message string `json:"message"`
	}
	err := c.do(ctx, "/auth/logout", nil, &msg)
	c.clearSession()
	if err != nil && !errors.Is(err, ErrSessionExpired) {
		return err
	}
	return nil
}

// Profile fetches the authenticated user.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, "/auth/profile", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// do is the authenticated request combinator: attempt with the current
// access token, on 401 refresh the session once, then retry exactly once.
// The retry is a second explicit attempt, not a hidden flag on the request.
func (c *Client) do(ctx context.Context, path string, body, out interface{}) error {
	token := c.ensureAccessToken(ctx)

	err := c.send(ctx, path, body, token, out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return err
	}

	newToken, refreshErr := c.refreshSession(ctx, token)
	if refreshErr != nil {
		c.clearSession()
		return ErrSessionExpired
	}

	return c.send(ctx, path, body, newToken, out)
}

// ensureAccessToken returns the in-memory access token, performing a silent
// refresh first when the process has only a durable refresh token (e.g.
// right after a restart). Absent both, it returns "" and the request
// proceeds unauthenticated.
func (c *Client) ensureAccessToken(ctx context.Context) string {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	if token != "" {
		return token
	}

	stored, err := c.tokens.Load()
	if err != nil || stored == "" {
		return ""
	}

	token, err = c.refreshSession(ctx, "")
	if err != nil {
		c.clearSession()
		return ""
	}
	return token
}

// refreshSession exchanges the durable refresh token for a new pair. stale
// is the access token the caller last used; if another goroutine already
// rotated past it, the current token is returned without a network call.
// The lock is held across the exchange so concurrent callers share a single
// in-flight refresh.
func (c *Client) refreshSession(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.accessToken != stale {
		return c.accessToken, nil
	}

	stored, err := c.tokens.Load()
	if err != nil {
		return "", err
	}
	if stored == "" {
		return "", ErrSessionExpired
	}

	var pair tokenPairResponse
	if err := c.send(ctx, "/auth/refresh", refreshRequest{RefreshToken: stored}, "", &pair); err != nil {
		return "", err
	}

	c.accessToken = pair.AccessToken
	if err := c.tokens.Save(pair.RefreshToken); err != nil {
		return "", err
	}
	return c.accessToken, nil
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
	if err := c.tokens.Clear(); err != nil {
		c.logger.WithError(err).Warn("Failed to clear durable refresh token")
	}
}

// send performs one HTTP round trip. Non-2xx responses become *APIError.
func (c *Client) send(ctx context.Context, path string, body interface{}, token string, out interface{}) error {
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope errorEnvelope
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		return &APIError{
			Status:  resp.StatusCode,
			Code:    envelope.Error.Code,
			Message: envelope.Error.Message,
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Package session is the HTTP client of the auth service. It attaches the
// cached access token to requests and, when a request is rejected with 401,
// exchanges the refresh cookie for a new access token exactly once no matter
// how many requests failed at the same time.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/tunekeeper/internal/common"
	"github.com/dmitrijs2005/tunekeeper/internal/logging"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// User is the public identity returned by the auth service.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type Client struct {
	base    *url.URL
	http    *http.Client
	jar     http.CookieJar
	timeout time.Duration
	store   TokenStore
	logger  logging.Logger

	refreshGroup singleflight.Group

	mu   sync.RWMutex
	user *User
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient uses a copy of hc as the transport. hc itself is never
// modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		c.http = &cp
	}
}

// WithCookieJar sets the jar that carries the refresh cookie. Without one the
// client keeps the jar of its http.Client, or an in-memory jar.
func WithCookieJar(j http.CookieJar) Option {
	return func(c *Client) { c.jar = j }
}

func WithTokenStore(s TokenStore) Option {
	return func(c *Client) { c.store = s }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout bounds every exchange, refresh included. It applies whatever
// the order of options.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("server url %q must be absolute", baseURL)
	}

	c := &Client{
		base:   base,
		http:   &http.Client{},
		store:  NewMemoryStore(),
		logger: logging.Discard(),
	}
	for _, o := range opts {
		o(c)
	}

	if c.timeout > 0 {
		c.http.Timeout = c.timeout
	}
	switch {
	case c.jar != nil:
		c.http.Jar = c.jar
	case c.http.Jar == nil:
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.http.Jar = jar
	}
	return c, nil
}

func (c *Client) url(path string) string {
	return c.base.String() + path
}

// CurrentUser is the user learned from the last register, login or Me call,
// or nil when logged out.
func (c *Client) CurrentUser() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

func (c *Client) setUser(u *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
}

// NewRequest builds a request for path with the cached access token attached
// as a bearer header. body, when non-nil, is sent as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.store.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cached token: %w", err)
	}
	if token != "" {
		req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+token)
	}
	return req, nil
}

// Do sends req. Requests under /auth/ are passed through untouched. For any
// other path a 401 triggers a shared refresh; if it succeeds and req carried
// an Authorization header, req is retried once with the new token. A second
// 401 is returned as is. When the refresh fails, the cached token is dropped
// and common.ErrSessionExpired is returned.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	if strings.HasPrefix(req.URL.Path, common.AuthPathPrefix) {
		return c.http.Do(req)
	}

	// Do consumes the body, so keep a way to resend it.
	retry, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	token, err := c.refresh(ctx)
	if err != nil {
		drain(resp)
		return nil, err
	}
	if retry.Header.Get(common.AuthorizationHeader) == "" {
		return resp, nil
	}

	drain(resp)
	retry.Header.Set(common.AuthorizationHeader, common.BearerPrefix+token)
	return c.http.Do(retry)
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(data))
		clone.Body = io.NopCloser(bytes.NewReader(data))
		return clone, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// Refresh exchanges the refresh cookie for a new access token, sharing the
// exchange with any concurrent caller.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.refresh(ctx)
}

// refresh joins the in-flight exchange or starts one. The exchange itself is
// detached from the caller's cancellation so one impatient caller cannot fail
// the others; each waiter still honours its own ctx.
func (c *Client) refresh(ctx context.Context) (string, error) {
	ch := c.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return c.exchange(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) exchange(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(common.RefreshPath), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn(ctx, "refresh request failed", "error", err)
		c.expire(ctx)
		return "", fmt.Errorf("%w: %v", common.ErrSessionExpired, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		c.logger.Info(ctx, "refresh rejected", "status", resp.StatusCode)
		c.expire(ctx)
		return "", common.ErrSessionExpired
	}

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		c.expire(ctx)
		return "", common.ErrSessionExpired
	}
	if err := c.store.SaveToken(ctx, body.AccessToken); err != nil {
		return "", fmt.Errorf("cache access token: %w", err)
	}
	return body.AccessToken, nil
}

func (c *Client) expire(ctx context.Context) {
	if err := c.store.ClearToken(ctx); err != nil {
		c.logger.Warn(ctx, "clearing cached token failed", "error", err)
	}
	c.setUser(nil)
}

type authResponse struct {
	AccessToken string `json:"accessToken"`
	User        User   `json:"user"`
}

func (c *Client) Register(ctx context.Context, email, password, username string) (*User, error) {
	return c.authenticate(ctx, common.RegisterPath, http.StatusCreated, map[string]string{
		"email":    email,
		"password": password,
		"username": username,
	})
}

func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	return c.authenticate(ctx, common.LoginPath, http.StatusOK, map[string]string{
		"email":    email,
		"password": password,
	})
}

func (c *Client) authenticate(ctx context.Context, path string, want int, body map[string]string) (*User, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != want {
		return nil, readAPIError(resp)
	}

	var ar authResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := c.store.SaveToken(ctx, ar.AccessToken); err != nil {
		return nil, fmt.Errorf("cache access token: %w", err)
	}
	c.setUser(&ar.User)
	u := ar.User
	return &u, nil
}

// Me fetches the identity behind the cached access token, refreshing it if
// needed.
func (c *Client) Me(ctx context.Context) (*User, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, common.MePath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var body struct {
		User struct {
			Sub      string `json:"sub"`
			Email    string `json:"email"`
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	u := &User{ID: body.User.Sub, Email: body.User.Email, Username: body.User.Username}
	c.setUser(u)
	cp := *u
	return &cp, nil
}

// Logout revokes the refresh token server-side and forgets the local session.
// Local state is cleared even when the request fails. The refresh cookie is
// scoped to the refresh path, so it is forwarded from the jar explicitly.
func (c *Client) Logout(ctx context.Context) error {
	defer c.expire(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(common.LogoutPath), nil)
	if err != nil {
		return err
	}
	if refreshURL, err := url.Parse(c.url(common.RefreshPath)); err == nil {
		for _, ck := range c.http.Jar.Cookies(refreshURL) {
			if ck.Name == common.RefreshCookieName {
				req.AddCookie(ck)
			}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	return nil
}

// IsSessionExpired reports whether err means the user has to log in again.
func IsSessionExpired(err error) bool {
	return errors.Is(err, common.ErrSessionExpired)
}

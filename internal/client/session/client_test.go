package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/tunekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/tunekeeper/internal/client/storage"
	"github.com/dmitrijs2005/tunekeeper/internal/common"
	"github.com/dmitrijs2005/tunekeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI mimics the auth service closely enough for the client: the only
// accepted access token is "fresh" until refresh hands out another.
type fakeAPI struct {
	mu         sync.Mutex
	validToken string
	refreshOK  bool
	// refreshGate, when set, is awaited before answering a refresh.
	refreshGate func()

	refreshCalls atomic.Int32
	dataCalls    atomic.Int32
	data401      atomic.Int32
	logoutCookie atomic.Value
	lastDataBody atomic.Value
}

func (f *fakeAPI) token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validToken
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()

	issue := func(w http.ResponseWriter, status int) {
		http.SetCookie(w, &http.Cookie{
			Name: common.RefreshCookieName, Value: "r1",
			Path: common.RefreshPath, HttpOnly: true, SameSite: http.SameSiteStrictMode,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken": f.token(),
			"user":        map[string]string{"id": "u1", "email": "alice@example.com", "username": "alice"},
		})
	}

	mux.HandleFunc("POST "+common.RegisterPath, func(w http.ResponseWriter, r *http.Request) {
		issue(w, http.StatusCreated)
	})
	mux.HandleFunc("POST "+common.LoginPath, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid credentials"}`))
			return
		}
		issue(w, http.StatusOK)
	})
	mux.HandleFunc("POST "+common.RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		if f.refreshGate != nil {
			f.refreshGate()
		}
		c, err := r.Cookie(common.RefreshCookieName)
		if !f.refreshOK || err != nil || c.Value != "r1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid refresh token"}`))
			return
		}
		f.mu.Lock()
		f.validToken = "refreshed"
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": "refreshed"})
	})
	mux.HandleFunc("POST "+common.LogoutPath, func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(common.RefreshCookieName); err == nil {
			f.logoutCookie.Store(c.Value)
		}
		http.SetCookie(w, &http.Cookie{Name: common.RefreshCookieName, Path: common.RefreshPath, MaxAge: -1})
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("GET "+common.MePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(common.AuthorizationHeader) != common.BearerPrefix+f.token() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"user":{"sub":"u1","email":"alice@example.com","username":"alice"}}`))
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		f.dataCalls.Add(1)
		b, _ := io.ReadAll(r.Body)
		f.lastDataBody.Store(string(b))
		if r.Header.Get(common.AuthorizationHeader) != common.BearerPrefix+f.token() {
			f.data401.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeAPI) (*Client, *MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	store := NewMemoryStore()
	c, err := New(srv.URL, WithTokenStore(store), WithTimeout(5*time.Second))
	require.NoError(t, err)
	return c, store
}

func getData(t *testing.T, c *Client, withAuth bool) (*http.Response, error) {
	t.Helper()
	req, err := c.NewRequest(context.Background(), http.MethodGet, "/data", nil)
	require.NoError(t, err)
	if !withAuth {
		req.Header.Del(common.AuthorizationHeader)
	}
	return c.Do(context.Background(), req)
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New("localhost:3000")
	assert.Error(t, err)
}

func TestNew_OptionsDoNotTouchCallerClientAndIgnoreOrder(t *testing.T) {
	hc := &http.Client{}
	c, err := New("http://localhost:3000", WithTimeout(3*time.Second), WithHTTPClient(hc))
	require.NoError(t, err)

	assert.Nil(t, hc.Jar)
	assert.Zero(t, hc.Timeout)
	assert.NotSame(t, hc, c.http)
	assert.Equal(t, 3*time.Second, c.http.Timeout)
	assert.NotNil(t, c.http.Jar)
}

func TestSession_SurvivesRestart(t *testing.T) {
	f := &fakeAPI{validToken: "fresh", refreshOK: true}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	ctx := context.Background()
	db, err := storage.InitDatabase(ctx, filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := metadata.NewSQLiteRepository(db)

	start := func() *Client {
		jar, err := metadata.NewCookieJar(ctx, repo, logging.Discard())
		require.NoError(t, err)
		c, err := New(srv.URL, WithTokenStore(metadata.NewTokenStore(repo)), WithCookieJar(jar))
		require.NoError(t, err)
		return c
	}

	first := start()
	_, err = first.Login(ctx, "alice@example.com", "secret")
	require.NoError(t, err)

	// the cached access token goes stale while nothing is running
	f.mu.Lock()
	f.validToken = "issued-elsewhere"
	f.mu.Unlock()

	second := start()
	u, err := second.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, int32(1), f.refreshCalls.Load())

	tok, err := metadata.NewTokenStore(repo).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok)
}

func TestLoginStoresTokenAndUser(t *testing.T) {
	f := &fakeAPI{validToken: "fresh"}
	c, store := newTestClient(t, f)

	u, err := c.Login(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, u, c.CurrentUser())

	tok, _ := store.Token(context.Background())
	assert.Equal(t, "fresh", tok)
}

func TestLoginFailureIsAPIError(t *testing.T) {
	f := &fakeAPI{validToken: "fresh"}
	c, _ := newTestClient(t, f)

	_, err := c.Login(context.Background(), "alice@example.com", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid credentials", apiErr.Message)
	assert.Zero(t, f.refreshCalls.Load(), "auth endpoints never trigger refresh")
	assert.Nil(t, c.CurrentUser())
}

func TestMe_ExpiredTokenRefreshesAndRetriesOnce(t *testing.T) {
	f := &fakeAPI{validToken: "fresh", refreshOK: true}
	c, store := newTestClient(t, f)

	_, err := c.Register(context.Background(), "alice@example.com", "secret", "alice")
	require.NoError(t, err)
	require.NoError(t, store.SaveToken(context.Background(), "expired"))

	u, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, int32(1), f.refreshCalls.Load())

	tok, _ := store.Token(context.Background())
	assert.Equal(t, "refreshed", tok)
}

func TestDo_SingleFlightRefresh(t *testing.T) {
	const k = 12

	f := &fakeAPI{validToken: "fresh", refreshOK: true}
	f.refreshGate = func() {
		deadline := time.Now().Add(3 * time.Second)
		for f.data401.Load() < k && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(200 * time.Millisecond)
	}
	c, store := newTestClient(t, f)
	_, err := c.Login(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, store.SaveToken(context.Background(), "stale"))

	var wg sync.WaitGroup
	statuses := make([]int, k)
	errs := make([]error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := getData(t, c, true)
			errs[i] = err
			if err == nil {
				statuses[i] = resp.StatusCode
				resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.refreshCalls.Load())
	for i := 0; i < k; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
	}
}

func TestDo_SingleFlightFailurePropagatesToAll(t *testing.T) {
	const k = 8

	f := &fakeAPI{validToken: "fresh", refreshOK: false}
	f.refreshGate = func() {
		deadline := time.Now().Add(3 * time.Second)
		for f.data401.Load() < k && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(200 * time.Millisecond)
	}
	c, store := newTestClient(t, f)
	_, err := c.Login(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, store.SaveToken(context.Background(), "stale"))

	var wg sync.WaitGroup
	errs := make([]error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := getData(t, c, true)
			if resp != nil {
				resp.Body.Close()
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.refreshCalls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, common.ErrSessionExpired)
		assert.True(t, IsSessionExpired(err))
	}
	tok, _ := store.Token(context.Background())
	assert.Empty(t, tok)
	assert.Nil(t, c.CurrentUser())
}

func TestDo_NextNeedStartsNewExchange(t *testing.T) {
	f := &fakeAPI{validToken: "fresh", refreshOK: true}
	c, store := newTestClient(t, f)
	_, err := c.Login(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, store.SaveToken(context.Background(), "stale"))
		resp, err := getData(t, c, true)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, int32(2), f.refreshCalls.Load())
}

// countingServer rejects every non-refresh request with 401.
func countingServer(t *testing.T, refreshStatus int) (*httptest.Server, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var refreshes, others atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == common.RefreshPath {
			refreshes.Add(1)
			w.WriteHeader(refreshStatus)
			_, _ = w.Write([]byte(`{"accessToken":"refreshed"}`))
			return
		}
		others.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	return srv, &refreshes, &others
}

func TestDo_RetriesAtMostOnce(t *testing.T) {
	srv, refreshes, others := countingServer(t, http.StatusOK)
	c, err := New(srv.URL)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/data", nil)
	require.NoError(t, err)
	req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+"stale")

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(2), others.Load())
}

func TestDo_AuthPathsAreNotRefreshed(t *testing.T) {
	srv, refreshes, others := countingServer(t, http.StatusOK)
	c, err := New(srv.URL)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+common.LoginPath, nil)
	require.NoError(t, err)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, refreshes.Load())
	assert.Equal(t, int32(1), others.Load())
}

func TestDo_NoAuthorizationHeaderIsNotRetried(t *testing.T) {
	srv, refreshes, others := countingServer(t, http.StatusOK)
	store := NewMemoryStore()
	c, err := New(srv.URL, WithTokenStore(store))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/data", nil)
	require.NoError(t, err)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(1), others.Load())
	tok, _ := store.Token(context.Background())
	assert.Equal(t, "refreshed", tok)
}

func TestDo_RetryResendsBody(t *testing.T) {
	f := &fakeAPI{validToken: "fresh", refreshOK: true}
	c, store := newTestClient(t, f)
	_, err := c.Login(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, store.SaveToken(context.Background(), "stale"))

	req, err := c.NewRequest(context.Background(), http.MethodPost, "/data", map[string]string{"track": "42"})
	require.NoError(t, err)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), f.dataCalls.Load())
	assert.JSONEq(t, `{"track":"42"}`, f.lastDataBody.Load().(string))
}

func TestRefresh_WaiterHonoursOwnContext(t *testing.T) {
	release := make(chan struct{})
	f := &fakeAPI{validToken: "fresh", refreshOK: true}
	f.refreshGate = func() { <-release }
	c, _ := newTestClient(t, f)
	_, err := c.Login(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Refresh(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	tok, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok)
}

func TestLogout_ForwardsRefreshCookieAndClearsState(t *testing.T) {
	f := &fakeAPI{validToken: "fresh", refreshOK: true}
	c, store := newTestClient(t, f)
	_, err := c.Login(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)

	require.NoError(t, c.Logout(context.Background()))

	assert.Equal(t, "r1", f.logoutCookie.Load())
	assert.Nil(t, c.CurrentUser())
	tok, _ := store.Token(context.Background())
	assert.Empty(t, tok)

	_, err = c.Refresh(context.Background())
	assert.ErrorIs(t, err, common.ErrSessionExpired)
}

func TestAPIError_Message(t *testing.T) {
	e := &APIError{Status: 409, Message: "email already registered"}
	assert.True(t, strings.Contains(e.Error(), "409"))
	assert.Equal(t, "server returned 500", (&APIError{Status: 500}).Error())
}

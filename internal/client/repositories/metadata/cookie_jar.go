package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/tunekeeper/internal/logging"
)

const cookiesKey = "cookies"

// storedCookie is a cookie as accepted from a response to URL. MaxAge is
// folded into Expires when stored.
type storedCookie struct {
	URL      string        `json:"url"`
	Name     string        `json:"name"`
	Value    string        `json:"value"`
	Path     string        `json:"path,omitempty"`
	Domain   string        `json:"domain,omitempty"`
	Expires  time.Time     `json:"expires,omitzero"`
	Secure   bool          `json:"secure,omitempty"`
	HttpOnly bool          `json:"http_only,omitempty"`
	SameSite http.SameSite `json:"same_site,omitempty"`
}

func (sc storedCookie) expired(now time.Time) bool {
	return !sc.Expires.IsZero() && !sc.Expires.After(now)
}

func (sc storedCookie) cookie() *http.Cookie {
	return &http.Cookie{
		Name:     sc.Name,
		Value:    sc.Value,
		Path:     sc.Path,
		Domain:   sc.Domain,
		Expires:  sc.Expires,
		Secure:   sc.Secure,
		HttpOnly: sc.HttpOnly,
		SameSite: sc.SameSite,
	}
}

// CookieJar is an http.CookieJar that outlives the process. Matching is left
// to net/http/cookiejar; every accepted cookie is also written to the
// Repository and replayed into a fresh jar by the next NewCookieJar.
type CookieJar struct {
	jar    *cookiejar.Jar
	repo   Repository
	logger logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]storedCookie
}

// NewCookieJar loads the cookies saved in repo. An unreadable record is
// dropped with a warning rather than failing startup.
func NewCookieJar(ctx context.Context, repo Repository, logger logging.Logger) (*CookieJar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	j := &CookieJar{
		jar:     inner,
		repo:    repo,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]storedCookie),
	}

	raw, err := repo.Get(ctx, cookiesKey)
	if err != nil {
		return nil, fmt.Errorf("load cookies: %w", err)
	}
	if len(raw) == 0 {
		return j, nil
	}

	var stored []storedCookie
	if err := json.Unmarshal(raw, &stored); err != nil {
		logger.Warn(ctx, "discarding unreadable cookie store", "error", err)
		return j, nil
	}
	now := j.now()
	for _, sc := range stored {
		u, err := url.Parse(sc.URL)
		if err != nil || sc.expired(now) {
			continue
		}
		j.jar.SetCookies(u, []*http.Cookie{sc.cookie()})
		j.entries[entryKey(u, sc)] = sc
	}
	return j, nil
}

func (j *CookieJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// SetCookies accepts cookies like any jar and persists the result. A write
// failure only costs persistence, so it is logged.
func (j *CookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	origin := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String()
	for _, c := range cookies {
		sc := storedCookie{
			URL:      origin,
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			SameSite: c.SameSite,
		}
		switch {
		case c.MaxAge < 0:
			sc.Expires = time.Unix(0, 0)
		case c.MaxAge > 0:
			sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}

		key := entryKey(u, sc)
		if sc.expired(now) {
			delete(j.entries, key)
			continue
		}
		j.entries[key] = sc
	}

	if err := j.save(context.Background()); err != nil {
		j.logger.Warn(context.Background(), "persisting cookies failed", "error", err)
	}
}

func (j *CookieJar) save(ctx context.Context) error {
	if len(j.entries) == 0 {
		return j.repo.Delete(ctx, cookiesKey)
	}
	list := make([]storedCookie, 0, len(j.entries))
	for _, sc := range j.entries {
		list = append(list, sc)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return j.repo.Set(ctx, cookiesKey, data)
}

// entryKey identifies a cookie the way a jar does: by domain, path and name.
func entryKey(u *url.URL, sc storedCookie) string {
	domain := sc.Domain
	if domain == "" {
		domain = u.Hostname()
	}
	path := sc.Path
	if path == "" || !strings.HasPrefix(path, "/") {
		path = defaultPath(u.Path)
	}
	return strings.ToLower(domain) + ";" + path + ";" + sc.Name
}

func defaultPath(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

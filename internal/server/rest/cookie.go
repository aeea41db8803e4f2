package rest

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/tunekeeper/internal/common"
	"github.com/dmitrijs2005/tunekeeper/internal/server/services"
)

func (h *Handler) setRefreshCookie(w http.ResponseWriter, s *services.Session) {
	maxAge := int(time.Until(s.RefreshExpires).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     common.RefreshCookieName,
		Value:    s.RefreshToken,
		Path:     common.RefreshPath,
		Expires:  s.RefreshExpires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     common.RefreshCookieName,
		Value:    "",
		Path:     common.RefreshPath,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func refreshCookie(r *http.Request) string {
	c, err := r.Cookie(common.RefreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

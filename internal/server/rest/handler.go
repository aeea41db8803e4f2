// Package rest is the HTTP transport of the auth server.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/tunekeeper/internal/common"
	"github.com/dmitrijs2005/tunekeeper/internal/logging"
	"github.com/dmitrijs2005/tunekeeper/internal/server/models"
	"github.com/dmitrijs2005/tunekeeper/internal/server/repositories/identities"
	"github.com/dmitrijs2005/tunekeeper/internal/server/services"
)

const maxBodyBytes = 1 << 20

// AuthService is the business API consumed by the handlers.
type AuthService interface {
	Register(ctx context.Context, email, password, username string) (*services.Session, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*services.Session, error)
	Logout(ctx context.Context, refreshToken string) error
	GetIdentity(ctx context.Context, accessToken string) (*models.PublicUser, error)
}

// Pinger reports backing-store reachability for /healthz.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	auth         AuthService
	pinger       Pinger
	logger       logging.Logger
	cookieSecure bool
}

func NewHandler(auth AuthService, pinger Pinger, logger logging.Logger, cookieSecure bool) *Handler {
	return &Handler{auth: auth, pinger: pinger, logger: logger, cookieSecure: cookieSecure}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken string             `json:"accessToken"`
	User        *models.PublicUser `json:"user,omitempty"`
}

type meUser struct {
	Sub      string `json:"sub"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type meResponse struct {
	User meUser `json:"user"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setRefreshCookie(w, s)
	writeJSON(w, http.StatusCreated, sessionResponse{AccessToken: s.AccessToken, User: &s.User})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setRefreshCookie(w, s)
	writeJSON(w, http.StatusOK, sessionResponse{AccessToken: s.AccessToken, User: &s.User})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	s, err := h.auth.Refresh(r.Context(), refreshCookie(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if s.RefreshToken != "" {
		h.setRefreshCookie(w, s)
	}
	writeJSON(w, http.StatusOK, sessionResponse{AccessToken: s.AccessToken})
}

// Logout always answers {ok:true} and always clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), refreshCookie(r)); err != nil {
		h.logger.Warn(r.Context(), "logout cleanup failed", "error", err)
	}
	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	token, ok := common.BearerToken(r.Header.Get(common.AuthorizationHeader))
	if !ok {
		h.writeError(w, r, services.ErrInvalidAccessToken)
		return
	}
	u, err := h.auth.GetIdentity(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: meUser{Sub: u.ID, Email: u.Email, Username: u.Username}})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.PingContext(ctx); err != nil {
			h.logger.Warn(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return false
	}
	return true
}

type errorResponse struct {
	Message string `json:"message"`
}

// statusFor maps service errors to a status and a public message. Credential
// failures share one message per operation.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrMissingFields):
		return http.StatusBadRequest, "email, password and username are required"
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, identities.ErrEmailTaken):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, identities.ErrUsernameTaken):
		return http.StatusConflict, "username already taken"
	case errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, services.ErrInvalidRefreshToken):
		return http.StatusUnauthorized, "invalid refresh token"
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "user not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

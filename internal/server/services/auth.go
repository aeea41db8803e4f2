// Package services holds the server business logic.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/tunekeeper/internal/common"
	"github.com/dmitrijs2005/tunekeeper/internal/dbx"
	"github.com/dmitrijs2005/tunekeeper/internal/logging"
	"github.com/dmitrijs2005/tunekeeper/internal/server/auth"
	"github.com/dmitrijs2005/tunekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/tunekeeper/internal/server/models"
	"github.com/dmitrijs2005/tunekeeper/internal/server/repositories/identities"
	"github.com/dmitrijs2005/tunekeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrMissingFields       = fmt.Errorf("missing required fields: %w", common.ErrorValidation)
	ErrInvalidCredentials  = fmt.Errorf("invalid credentials: %w", common.ErrorUnauthorized)
	ErrInvalidRefreshToken = fmt.Errorf("invalid refresh token: %w", common.ErrorUnauthorized)
	ErrInvalidAccessToken  = fmt.Errorf("invalid access token: %w", common.ErrorUnauthorized)
)

// Session is the result of a token issuance. RefreshToken is empty when the
// operation did not issue one.
type Session struct {
	AccessToken    string
	RefreshToken   string
	RefreshExpires time.Time
	User           models.PublicUser
}

type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	issuer      *auth.Issuer
	hasher      auth.PasswordHasher
	rotate      bool
	logger      logging.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer

	dummyOnce sync.Once
	dummyHash string
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithRefreshRotation makes Refresh issue a new refresh token on every use.
func WithRefreshRotation(enabled bool) AuthOption {
	return func(s *AuthService) { s.rotate = enabled }
}

func WithLogger(l logging.Logger) AuthOption {
	return func(s *AuthService) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) AuthOption {
	return func(s *AuthService) { s.metrics = m }
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, issuer *auth.Issuer, hasher auth.PasswordHasher, opts ...AuthOption) *AuthService {
	s := &AuthService{
		db:          db,
		repomanager: m,
		issuer:      issuer,
		hasher:      hasher,
		logger:      logging.Discard(),
		tracer:      otel.Tracer("github.com/dmitrijs2005/tunekeeper/internal/server/services"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register creates an identity and starts a session for it. The identity row
// and its registry entry are written in one transaction.
func (s *AuthService) Register(ctx context.Context, email, password, username string) (_ *Session, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Register")
	defer func() {
		endSpan(span, err)
		s.metrics.Registration(outcome(err))
	}()

	if strings.TrimSpace(email) == "" || password == "" || strings.TrimSpace(username) == "" {
		return nil, ErrMissingFields
	}

	if err := s.checkAvailable(ctx, email, username); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error(ctx, "password hashing failed", "error", err)
		return nil, common.ErrorInternal
	}

	identity := &models.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
	}

	var session *Session
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Identities(tx).Create(ctx, identity); err != nil {
			return err
		}
		var err error
		session, err = s.issueSession(ctx, tx, identity)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		s.logger.Error(ctx, "register failed", "error", err)
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "identity registered", "user_id", identity.ID)
	return session, nil
}

// checkAvailable rejects taken emails and usernames before the password is
// hashed. Unique constraints still guard the insert against races.
func (s *AuthService) checkAvailable(ctx context.Context, email, username string) error {
	repo := s.repomanager.Identities(s.db)

	if _, err := repo.GetByEmail(ctx, email); err == nil {
		return identities.ErrEmailTaken
	} else if !errors.Is(err, common.ErrorNotFound) {
		s.logger.Error(ctx, "email lookup failed", "error", err)
		return common.ErrorInternal
	}

	if _, err := repo.GetByUsername(ctx, username); err == nil {
		return identities.ErrUsernameTaken
	} else if !errors.Is(err, common.ErrorNotFound) {
		s.logger.Error(ctx, "username lookup failed", "error", err)
		return common.ErrorInternal
	}
	return nil
}

// Login verifies the password and starts a new session, superseding any
// refresh token previously issued to the identity. Unknown email and wrong
// password both yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (_ *Session, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Login")
	defer func() {
		endSpan(span, err)
		s.metrics.Login(outcome(err))
	}()

	identity, err := s.repomanager.Identities(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.burnHash(password)
			return nil, ErrInvalidCredentials
		}
		s.logger.Error(ctx, "identity lookup failed", "error", err)
		return nil, common.ErrorInternal
	}

	ok, err := s.hasher.Compare(identity.PasswordHash, password)
	if err != nil {
		s.logger.Error(ctx, "stored password hash unusable", "user_id", identity.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	session, err := s.issueSession(ctx, s.db, identity)
	if err != nil {
		s.logger.Error(ctx, "session issuance failed", "user_id", identity.ID, "error", err)
		return nil, common.ErrorInternal
	}
	return session, nil
}

// burnHash spends one hash comparison so that unknown emails cost as much as
// wrong passwords.
func (s *AuthService) burnHash(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash(uuid.NewString())
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Compare(s.dummyHash, password)
	}
}

// Refresh exchanges the current refresh token for a new access token built
// from the live identity record. The presented token must equal the one held
// in the registry.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (_ *Session, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Refresh")
	defer func() {
		endSpan(span, err)
		s.metrics.Refresh(outcome(err))
	}()

	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	claims, err := s.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	registry := s.repomanager.RefreshTokens(s.db)
	stored, err := registry.Get(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		s.logger.Error(ctx, "registry lookup failed", "error", err)
		return nil, common.ErrorInternal
	}
	if subtle.ConstantTimeCompare([]byte(stored.Token), []byte(refreshToken)) != 1 {
		return nil, ErrInvalidRefreshToken
	}

	identity, err := s.repomanager.Identities(s.db).GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "refresh token subject has no identity", "user_id", claims.Subject)
			return nil, common.ErrorNotFound
		}
		s.logger.Error(ctx, "identity lookup failed", "error", err)
		return nil, common.ErrorInternal
	}

	if s.rotate {
		session, err := s.issueSession(ctx, s.db, identity)
		if err != nil {
			s.logger.Error(ctx, "session issuance failed", "user_id", identity.ID, "error", err)
			return nil, common.ErrorInternal
		}
		return session, nil
	}

	access, err := s.issuer.IssueAccess(identity.ID, identity.Email, identity.Username)
	if err != nil {
		s.logger.Error(ctx, "access token signing failed", "error", err)
		return nil, common.ErrorInternal
	}
	s.metrics.TokenIssued(string(auth.AccessToken))
	return &Session{AccessToken: access, User: identity.Public()}, nil
}

// Logout removes the registry entry of a verifiable refresh token. Missing or
// invalid tokens are ignored; the returned error is for logging only.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) (err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Logout")
	defer func() { endSpan(span, err) }()

	if refreshToken == "" {
		return nil
	}
	claims, err := s.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil
	}
	if err := s.repomanager.RefreshTokens(s.db).Delete(ctx, claims.Subject); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	s.logger.Info(ctx, "logged out", "user_id", claims.Subject)
	return nil
}

// GetIdentity resolves a bearer access token to the live identity record.
func (s *AuthService) GetIdentity(ctx context.Context, accessToken string) (_ *models.PublicUser, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.GetIdentity")
	defer func() { endSpan(span, err) }()

	claims, err := s.issuer.VerifyAccess(accessToken)
	if err != nil {
		return nil, ErrInvalidAccessToken
	}

	identity, err := s.repomanager.Identities(s.db).GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		s.logger.Error(ctx, "identity lookup failed", "error", err)
		return nil, common.ErrorInternal
	}
	user := identity.Public()
	return &user, nil
}

// issueSession signs a token pair and stores the refresh token as the
// identity's only valid one.
func (s *AuthService) issueSession(ctx context.Context, db dbx.DBTX, identity *models.Identity) (*Session, error) {
	access, err := s.issuer.IssueAccess(identity.ID, identity.Email, identity.Username)
	if err != nil {
		return nil, err
	}
	refresh, expires, err := s.issuer.IssueRefresh(identity.ID)
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.RefreshTokens(db).Put(ctx, identity.ID, refresh, expires); err != nil {
		return nil, err
	}
	s.metrics.TokenIssued(string(auth.AccessToken))
	s.metrics.TokenIssued(string(auth.RefreshToken))

	return &Session{
		AccessToken:    access,
		RefreshToken:   refresh,
		RefreshExpires: expires,
		User:           identity.Public(),
	}, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, common.ErrorInternal):
		return metrics.OutcomeError
	default:
		return metrics.OutcomeFailure
	}
}

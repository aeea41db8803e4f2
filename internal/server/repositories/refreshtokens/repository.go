package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tunekeeper/internal/server/models"
)

// Repository is the revocation registry: at most one current refresh token
// per user. Put replaces any previous token for the same user.
type Repository interface {
	Put(ctx context.Context, userID string, token string, expiresAt time.Time) error
	// Get returns common.ErrorNotFound when the user has no current token.
	Get(ctx context.Context, userID string) (*models.RefreshToken, error)
	// Delete is a no-op when nothing is stored.
	Delete(ctx context.Context, userID string) error
}

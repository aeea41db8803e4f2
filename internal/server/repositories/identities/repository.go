// Package identities persists user identity records.
package identities

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tunekeeper/internal/common"
	"github.com/dmitrijs2005/tunekeeper/internal/server/models"
)

// Uniqueness violations. Both wrap common.ErrorAlreadyExists.
var (
	ErrEmailTaken    = fmt.Errorf("email already exists: %w", common.ErrorAlreadyExists)
	ErrUsernameTaken = fmt.Errorf("username already exists: %w", common.ErrorAlreadyExists)
)

// Repository is the identity store contract. Lookups return
// common.ErrorNotFound when nothing matches.
type Repository interface {
	// Create inserts the identity, filling CreatedAt. It returns ErrEmailTaken
	// or ErrUsernameTaken when a uniqueness constraint is hit.
	Create(ctx context.Context, identity *models.Identity) error
	GetByID(ctx context.Context, id string) (*models.Identity, error)
	GetByEmail(ctx context.Context, email string) (*models.Identity, error)
	// GetByUsername matches case-insensitively.
	GetByUsername(ctx context.Context, username string) (*models.Identity, error)
}

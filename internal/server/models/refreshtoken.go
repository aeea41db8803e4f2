package models

import "time"

// RefreshToken is the single currently-valid refresh token of a user, as kept
// in the revocation registry.
type RefreshToken struct {
	UserID  string
	Token   string
	Expires time.Time
}

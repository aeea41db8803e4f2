// Package models holds the server-side persistence models.
package models

import "time"

// Identity is a registered user. Email and lowercased username are unique.
type Identity struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// PublicUser is the subset of Identity safe to return to clients.
type PublicUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Public strips the password hash.
func (i *Identity) Public() PublicUser {
	return PublicUser{ID: i.ID, Email: i.Email, Username: i.Username}
}

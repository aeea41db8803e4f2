package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tunekeeper/internal/client/session"
	"github.com/dmitrijs2005/tunekeeper/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for email, username and password and creates the account.
// A successful registration also logs the user in.
func (a *App) Register(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}
	username, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	u, err := a.client.Register(ctx, email, string(password), username)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Registered as %s.", u.Username))
	return nil
}

func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	u, err := a.client.Login(ctx, email, string(password))
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Logged in as %s.", u.Username))
	return nil
}

// Me prints the identity the server associates with the current session.
func (a *App) Me(ctx context.Context) error {
	u, err := a.client.Me(ctx)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("id:       %s\nemail:    %s\nusername: %s", u.ID, u.Email, u.Username))
	return nil
}

// Logout ends the session. The local session is forgotten even when the
// server could not be reached.
func (a *App) Logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	printlnFn("Logged out.")
	return nil
}

// describeError turns a command error into the line shown to the user.
func describeError(err error) string {
	var apiErr *session.APIError
	switch {
	case session.IsSessionExpired(err):
		return "Session expired, please log in again."
	case errors.As(err, &apiErr):
		return "Error: " + apiErr.Message
	default:
		return "Error: " + err.Error()
	}
}

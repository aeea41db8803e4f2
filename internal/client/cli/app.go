package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/tunekeeper/internal/client/config"
	"github.com/dmitrijs2005/tunekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/tunekeeper/internal/client/session"
	"github.com/dmitrijs2005/tunekeeper/internal/client/storage"
	"github.com/dmitrijs2005/tunekeeper/internal/logging"
)

// authClient is the part of session.Client the CLI drives.
type authClient interface {
	CurrentUser() *session.User
	Register(ctx context.Context, email, password, username string) (*session.User, error)
	Login(ctx context.Context, email, password string) (*session.User, error)
	Me(ctx context.Context) (*session.User, error)
	Logout(ctx context.Context) error
}

type App struct {
	client authClient
	tokens session.TokenStore
	logger logging.Logger
	db     *sql.DB
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stderr, c.LogLevel, "text")

	db, err := storage.InitDatabase(ctx, c.TokenDBPath)
	if err != nil {
		return nil, fmt.Errorf("init session database: %w", err)
	}

	repo := metadata.NewSQLiteRepository(db)
	jar, err := metadata.NewCookieJar(ctx, repo, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	tokens := metadata.NewTokenStore(repo)
	client, err := session.New(c.ServerURL,
		session.WithTokenStore(tokens),
		session.WithCookieJar(jar),
		session.WithTimeout(c.RequestTimeout),
		session.WithLogger(logger),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &App{
		client: client,
		tokens: tokens,
		logger: logger,
		db:     db,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}, nil
}

// Run restores a cached session if there is one and then serves the REPL
// until the user exits.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	printlnFn("Welcome to tunekeeper (type 'help' for commands)")
	a.restore(ctx)

	runREPL(ctx, a, a.status, a.reader)
	return nil
}

// restore resolves the user behind an access token cached by a previous run.
// An expired access token is refreshed with the persisted refresh cookie; if
// that fails too the user simply has to log in.
func (a *App) restore(ctx context.Context) {
	token, err := a.tokens.Token(ctx)
	if err != nil || token == "" {
		return
	}
	if _, err := a.client.Me(ctx); err != nil {
		a.logger.Debug(ctx, "cached session not restored", "error", err)
		return
	}
	printlnFn("Session restored.")
}

func (a *App) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *App) isLoggedIn() bool {
	return a.client.CurrentUser() != nil
}

func (a *App) status() string {
	u := a.client.CurrentUser()
	if u == nil {
		return "(guest)"
	}
	return fmt.Sprintf("(%s)", u.Username)
}

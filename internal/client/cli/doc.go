// Package cli provides the interactive tunekeeper command-line client.
//
// It wires configuration, the local session database and the session HTTP
// client into a small REPL:
//
//   - register / login / logout
//   - me (fetches the current identity, refreshing the access token on 401)
//
// The REPL is started via App.Run(ctx), which blocks until the user exits or
// stdin is closed.
package cli

// Package config loads runtime configuration for the tunekeeper CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-s string     base URL of the auth server
//	-db string    path of the local SQLite session database
//	-timeout dur  per-request timeout (e.g. 10s)
//	-l string     log level
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "10s" or
// integer nanoseconds:
//
//	{
//	  "server_url": "http://localhost:3000",
//	  "token_db_path": "session.db",
//	  "request_timeout": "10s"
//	}
package config

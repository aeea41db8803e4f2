package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/tunekeeper/internal/flagx"
)

// parseFlags overlays the flags this package owns; anything else in args is
// ignored.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-s", "-db", "-timeout", "-l"})

	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerURL, "s", cfg.ServerURL, "auth server base URL")
	fs.StringVar(&cfg.TokenDBPath, "db", cfg.TokenDBPath, "session database path")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "request timeout")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	return fs.Parse(args)
}

package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/tunekeeper/internal/flagx"
)

// parseFlags overlays the flags this package owns.
//
//	-a string     HTTP bind address (e.g. ":3000")
//	-g string     gRPC health bind address
//	-d string     PostgreSQL DSN
//	-as string    access token secret
//	-rs string    refresh token secret
//	-t duration   access token validity (e.g. 15m)
//	-r duration   refresh token validity (e.g. 168h)
//	-b string     refresh registry backend: postgres|redis
//	-redis string redis URL
//	-rotate       rotate refresh tokens on use (-rotate=false to disable; never takes a separate value)
//	-l string     log level
func parseFlags(c *Config, args []string) error {
	owned := []string{"-a", "-g", "-d", "-as", "-rs", "-t", "-r", "-b", "-redis", "-l"}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&c.EndpointAddrHTTP, "a", c.EndpointAddrHTTP, "HTTP address")
	fs.StringVar(&c.EndpointAddrGRPC, "g", c.EndpointAddrGRPC, "gRPC health address")
	fs.StringVar(&c.DatabaseDSN, "d", c.DatabaseDSN, "database DSN")
	fs.StringVar(&c.AccessSecret, "as", c.AccessSecret, "access token secret")
	fs.StringVar(&c.RefreshSecret, "rs", c.RefreshSecret, "refresh token secret")
	fs.DurationVar(&c.AccessTokenValidityDuration, "t", c.AccessTokenValidityDuration, "access token validity")
	fs.DurationVar(&c.RefreshTokenValidityDuration, "r", c.RefreshTokenValidityDuration, "refresh token validity")
	fs.StringVar(&c.RegistryBackend, "b", c.RegistryBackend, "refresh registry backend")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "redis URL")
	fs.BoolVar(&c.RotateRefreshTokens, "rotate", c.RotateRefreshTokens, "rotate refresh tokens")
	fs.StringVar(&c.LogLevel, "l", c.LogLevel, "log level")

	return fs.Parse(flagx.FilterArgs(args, owned, "-rotate"))
}

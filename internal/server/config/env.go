package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/tunekeeper/internal/flagx"
	"github.com/joho/godotenv"
)

// loadDotEnv exports variables from the dotenv file (".env" or -env path)
// without overriding variables already present. A missing file is fine.
func loadDotEnv(args []string) error {
	path := flagx.EnvFilePath(args)
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// parseEnv overlays values from environment variables. Unparseable values are
// ignored and the previous value is kept.
func parseEnv(c *Config, getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		c.EndpointAddrHTTP = ":" + v
	}
	if v := getenv("HTTP_ADDR"); v != "" {
		c.EndpointAddrHTTP = v
	}
	if v, ok := lookup(getenv, "GRPC_ADDR"); ok {
		c.EndpointAddrGRPC = v
	}
	if v := getenv("DATABASE_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := getenv("JWT_ACCESS_SECRET"); v != "" {
		c.AccessSecret = v
	}
	if v := getenv("JWT_REFRESH_SECRET"); v != "" {
		c.RefreshSecret = v
	}
	if v := getenv("REGISTRY_BACKEND"); v != "" {
		c.RegistryBackend = strings.ToLower(v)
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if b, err := strconv.ParseBool(getenv("COOKIE_SECURE")); err == nil {
		c.CookieSecure = b
	}
	if b, err := strconv.ParseBool(getenv("ROTATE_REFRESH_TOKENS")); err == nil {
		c.RotateRefreshTokens = b
	}
	if n, err := strconv.Atoi(getenv("BCRYPT_COST")); err == nil {
		c.BcryptCost = n
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
}

// lookup treats a variable set to the literal "off" as an explicit empty value.
func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	switch v {
	case "":
		return "", false
	case "off":
		return "", true
	default:
		return v, true
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

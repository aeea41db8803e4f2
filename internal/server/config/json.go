package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/tunekeeper/internal/flagx"
	"github.com/dmitrijs2005/tunekeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Pointer fields let a
// file override only what it mentions.
type JsonConfig struct {
	EndpointAddrHTTP             *string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC             *string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                  *string         `json:"database_dsn"`
	AccessSecret                 *string         `json:"access_secret"`
	RefreshSecret                *string         `json:"refresh_secret"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration"`
	RegistryBackend              *string         `json:"registry_backend"`
	RedisURL                     *string         `json:"redis_url"`
	AllowedOrigins               []string        `json:"allowed_origins"`
	CookieSecure                 *bool           `json:"cookie_secure"`
	BcryptCost                   *int            `json:"bcrypt_cost"`
	RotateRefreshTokens          *bool           `json:"rotate_refresh_tokens"`
	LogLevel                     *string         `json:"log_level"`
	LogFormat                    *string         `json:"log_format"`
}

// parseJson overlays values from the JSON file named by -c/-config. Without
// such a flag nothing is loaded.
func parseJson(c *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	j := &JsonConfig{}
	if err := json.Unmarshal(raw, j); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.EndpointAddrHTTP, j.EndpointAddrHTTP)
	setString(&c.EndpointAddrGRPC, j.EndpointAddrGRPC)
	setString(&c.DatabaseDSN, j.DatabaseDSN)
	setString(&c.AccessSecret, j.AccessSecret)
	setString(&c.RefreshSecret, j.RefreshSecret)
	if j.AccessTokenValidityDuration != nil {
		c.AccessTokenValidityDuration = j.AccessTokenValidityDuration.Duration
	}
	if j.RefreshTokenValidityDuration != nil {
		c.RefreshTokenValidityDuration = j.RefreshTokenValidityDuration.Duration
	}
	setString(&c.RegistryBackend, j.RegistryBackend)
	setString(&c.RedisURL, j.RedisURL)
	if j.AllowedOrigins != nil {
		c.AllowedOrigins = j.AllowedOrigins
	}
	if j.CookieSecure != nil {
		c.CookieSecure = *j.CookieSecure
	}
	if j.BcryptCost != nil {
		c.BcryptCost = *j.BcryptCost
	}
	if j.RotateRefreshTokens != nil {
		c.RotateRefreshTokens = *j.RotateRefreshTokens
	}
	setString(&c.LogLevel, j.LogLevel)
	setString(&c.LogFormat, j.LogFormat)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Package config handles configuration for the sync server: defaults, an
// optional config file, GOPHSYNC_SERVER_ environment variables and
// command-line flags, applied in that order.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime settings for the sync server.
//
// Fields:
//   - EndpointAddrGRPC: bind address for the gRPC sync endpoint.
//   - EndpointAddrHTTP: bind address for the change notification websocket.
//   - DatabaseDSN: PostgreSQL DSN (pgx). "sqlite:<path>" selects an SQLite
//     file, empty keeps everything in memory.
//   - SecretKey: HMAC secret for signing JWTs (HS256). Do not use test defaults in prod.
//   - AccessTokenValidityDuration / RefreshTokenValidityDuration: token lifetimes.
//   - Types: entity types accepted from clients, empty accepts any.
type Config struct {
	EndpointAddrGRPC             string
	EndpointAddrHTTP             string
	DatabaseDSN                  string
	SecretKey                    string
	AccessTokenValidityDuration  time.Duration
	RefreshTokenValidityDuration time.Duration
	Types                        []string
	LogLevel                     string
	LogFile                      string

	file string
	v    *viper.Viper
}

// LoadDefaults populates Config with development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.EndpointAddrHTTP = ":8080"
	c.DatabaseDSN = ""
	c.SecretKey = "secretKey"
	c.AccessTokenValidityDuration = 15 * time.Minute
	c.RefreshTokenValidityDuration = 24 * time.Hour
	c.LogLevel = "info"
}

// Load builds a Config from defaults, the config file named in args (-c or
// -config), the environment and the flags in args.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// File is the config file in use, empty when none.
func (c *Config) File() string { return c.file }

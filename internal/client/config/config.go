package config

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime settings of the sync client.
//
// Backends lists storage backends in preference order; the first one that is
// supported in this environment is used.
type Config struct {
	ServerEndpointAddr  string
	ChangesURL          string
	Username            string
	Password            string
	Backends            []string
	DataDir             string
	Types               []string
	CacheTTL            time.Duration
	Lazy                bool
	OnlineCheckInterval time.Duration

	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	LogLevel string
	LogFile  string

	file string
	v    *viper.Viper
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.ChangesURL = "ws://127.0.0.1:8080/v1/changes"
	c.Backends = []string{"sqlite", "bolt", "memory"}
	c.DataDir = "~/.gophsync"
	c.Types = []string{"Contact", "Task"}
	c.CacheTTL = time.Minute
	c.Lazy = false
	c.OnlineCheckInterval = 3 * time.Second
	c.S3Prefix = "gophsync"
	c.S3Region = "us-east-1"
	c.LogLevel = "info"
}

// Load builds a Config from defaults, the config file named in args,
// GOPHSYNC_ environment variables and the flags in args, in that order.
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

// SQLitePath is where the sqlite backend keeps its database.
func (c *Config) SQLitePath() string { return filepath.Join(c.DataDir, "gophsync.db") }

// BoltPath is where the bolt backend keeps its database.
func (c *Config) BoltPath() string { return filepath.Join(c.DataDir, "gophsync.bolt") }

// TokenFile is where issued tokens are kept between runs.
func (c *Config) TokenFile() string { return filepath.Join(c.DataDir, "tokens.json") }

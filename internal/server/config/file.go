package config

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/flagx"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "GOPHSYNC_SERVER"

func parseFile(cfg *Config, args []string) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("endpoint_addr_grpc", cfg.EndpointAddrGRPC)
	v.SetDefault("endpoint_addr_http", cfg.EndpointAddrHTTP)
	v.SetDefault("database_dsn", cfg.DatabaseDSN)
	v.SetDefault("secret_key", cfg.SecretKey)
	v.SetDefault("access_token_validity_duration", cfg.AccessTokenValidityDuration)
	v.SetDefault("refresh_token_validity_duration", cfg.RefreshTokenValidityDuration)
	v.SetDefault("types", cfg.Types)
	v.SetDefault("log.level", cfg.LogLevel)
	v.SetDefault("log.file", cfg.LogFile)

	if path := flagx.ConfigFileFlag(args); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		cfg.file = path
	}
	cfg.v = v

	cfg.EndpointAddrGRPC = v.GetString("endpoint_addr_grpc")
	cfg.EndpointAddrHTTP = v.GetString("endpoint_addr_http")
	cfg.DatabaseDSN = v.GetString("database_dsn")
	cfg.SecretKey = v.GetString("secret_key")
	cfg.AccessTokenValidityDuration = v.GetDuration("access_token_validity_duration")
	cfg.RefreshTokenValidityDuration = v.GetDuration("refresh_token_validity_duration")
	cfg.Types = splitList(v.GetStringSlice("types"))
	cfg.LogLevel = v.GetString("log.level")
	cfg.LogFile = v.GetString("log.file")
	return nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Watch reports the log level whenever the config file is rewritten.
func (c *Config) Watch(onChange func(level string)) {
	if c.v == nil || c.file == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		onChange(c.v.GetString("log.level"))
	})
	c.v.WatchConfig()
}

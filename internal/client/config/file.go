package config

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/filex"
	"github.com/dmitrijs2005/gophsync/internal/flagx"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "GOPHSYNC"

// parseFile overlays cfg with the config file and the environment. The
// current values of cfg act as viper defaults, so an unset key keeps them.
func parseFile(cfg *Config, args []string) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path := flagx.ConfigFileFlag(args); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		cfg.file = path
	}
	cfg.v = v
	apply(v, cfg)
	var err error
	if cfg.DataDir, err = filex.ExpandHome(cfg.DataDir); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("server_endpoint_addr", c.ServerEndpointAddr)
	v.SetDefault("changes_url", c.ChangesURL)
	v.SetDefault("username", c.Username)
	v.SetDefault("password", c.Password)
	v.SetDefault("backends", c.Backends)
	v.SetDefault("data_dir", c.DataDir)
	v.SetDefault("types", c.Types)
	v.SetDefault("cache_ttl", c.CacheTTL)
	v.SetDefault("lazy", c.Lazy)
	v.SetDefault("online_check_interval", c.OnlineCheckInterval)
	v.SetDefault("s3.bucket", c.S3Bucket)
	v.SetDefault("s3.prefix", c.S3Prefix)
	v.SetDefault("s3.region", c.S3Region)
	v.SetDefault("s3.endpoint", c.S3Endpoint)
	v.SetDefault("s3.access_key", c.S3AccessKey)
	v.SetDefault("s3.secret_key", c.S3SecretKey)
	v.SetDefault("log.level", c.LogLevel)
	v.SetDefault("log.file", c.LogFile)
}

func apply(v *viper.Viper, c *Config) {
	c.ServerEndpointAddr = v.GetString("server_endpoint_addr")
	c.ChangesURL = v.GetString("changes_url")
	c.Username = v.GetString("username")
	c.Password = v.GetString("password")
	c.Backends = list(v.GetStringSlice("backends"))
	c.DataDir = v.GetString("data_dir")
	c.Types = list(v.GetStringSlice("types"))
	c.CacheTTL = v.GetDuration("cache_ttl")
	c.Lazy = v.GetBool("lazy")
	c.OnlineCheckInterval = v.GetDuration("online_check_interval")
	c.S3Bucket = v.GetString("s3.bucket")
	c.S3Prefix = v.GetString("s3.prefix")
	c.S3Region = v.GetString("s3.region")
	c.S3Endpoint = v.GetString("s3.endpoint")
	c.S3AccessKey = v.GetString("s3.access_key")
	c.S3SecretKey = v.GetString("s3.secret_key")
	c.LogLevel = v.GetString("log.level")
	c.LogFile = v.GetString("log.file")
}

// list accepts both real lists and comma separated strings, which is how
// lists arrive from the environment.
func list(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Watch calls onChange with the new log level whenever the config file
// changes. It does nothing without a config file.
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



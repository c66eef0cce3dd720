package config

import (
	"flag"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/filex"
	"github.com/dmitrijs2005/gophsync/internal/flagx"
)

var (
	valueFlags = []string{"-a", "-w", "-u", "-p", "-b", "-d", "-t", "-ttl", "-i", "-l", "-log-file"}
	boolFlags  = []string{"-lazy"}
	knownFlags = append(append([]string{}, valueFlags...), boolFlags...)
)

// Flags returns the flags Load consumes: those taking a value, config file
// flags included, and the boolean ones.
func Flags() (value, boolean []string) {
	value = append([]string{"-c", "-config", "--config"}, valueFlags...)
	return value, append([]string{}, boolFlags...)
}

// parseFlags overlays cfg with command-line flags.
//
// Supported flags:
//
//	-a string    address and port of the sync server
//	-w string    websocket URL of the change stream
//	-u string    username
//	-p string    password
//	-b string    comma separated backends in preference order
//	-d string    local data directory
//	-t string    comma separated entity types
//	-ttl int     server list cache lifetime in seconds, 0 disables expiry
//	-lazy        load types from the server on first read
//	-i int       online check interval in seconds
//	-l string    log level
//	-log-file    log file path
//
// Arguments that are not among these flags are ignored, so subcommand
// arguments can share the list.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("gophsync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.ChangesURL, "w", cfg.ChangesURL, "change stream websocket URL")
	fs.StringVar(&cfg.Username, "u", cfg.Username, "username")
	fs.StringVar(&cfg.Password, "p", cfg.Password, "password")
	backends := fs.String("b", strings.Join(cfg.Backends, ","), "storage backends in preference order")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "local data directory")
	types := fs.String("t", strings.Join(cfg.Types, ","), "entity types")
	ttl := fs.Int("ttl", int(cfg.CacheTTL.Seconds()), "server list cache lifetime (in seconds)")
	fs.BoolVar(&cfg.Lazy, "lazy", cfg.Lazy, "load types on first read")
	interval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Backends = list([]string{*backends})
	cfg.Types = list([]string{*types})
	cfg.CacheTTL = time.Duration(*ttl) * time.Second
	cfg.OnlineCheckInterval = time.Duration(*interval) * time.Second
	var err error
	cfg.DataDir, err = filex.ExpandHome(cfg.DataDir)
	return err
}

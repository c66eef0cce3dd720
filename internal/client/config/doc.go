// Package config loads runtime configuration for the sync client and the
// syncctl tool.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected with -c or -config. JSON, YAML and TOML
//     are accepted, chosen by extension.
//  3. Environment variables prefixed GOPHSYNC_, e.g. GOPHSYNC_SERVER_ENDPOINT_ADDR.
//  4. Command-line flags, which override everything else.
//
// # File schema (YAML shown)
//
//	server_endpoint_addr: 127.0.0.1:50051
//	changes_url: ws://127.0.0.1:8080/v1/changes
//	backends: [sqlite, bolt, memory]
//	data_dir: ~/.gophsync
//	types: [Contact, Task]
//	cache_ttl: 1m
//	lazy: true
//	log:
//	  level: debug
//	  file: ~/.gophsync/client.log
//
// Durations accept Go duration strings ("3s") or integer nanoseconds.
package config

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/filex"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects where log records go and at which level.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	Format     string // "json", "text" or "" for auto
}

// Setup builds a Logger from opts. The returned LevelVar can be adjusted at
// runtime, for example when a config file is reloaded.
//
// With File set, records are written as JSON to a size-rotated file. Without
// it they go to stderr, as text when stderr is a terminal and JSON otherwise.
func Setup(opts Options) (Logger, *slog.LevelVar, error) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(opts.Level))

	var (
		w       io.Writer
		useText bool
	)
	if opts.File != "" {
		path, err := filex.ExpandHome(opts.File)
		if err != nil {
			return nil, nil, err
		}
		if _, err := filex.EnsureDir(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
		}
	} else {
		w = os.Stderr
		useText = term.IsTerminal(int(os.Stderr.Fd()))
	}

	switch strings.ToLower(opts.Format) {
	case "json":
		useText = false
	case "text":
		useText = true
	}

	return NewSlogLogger(slog.New(newHandler(w, level, useText))), level, nil
}

func newHandler(w io.Writer, level slog.Leveler, text bool) slog.Handler {
	ho := &slog.HandlerOptions{Level: level}
	if text {
		return slog.NewTextHandler(w, ho)
	}
	return slog.NewJSONHandler(w, ho)
}

// ParseLevel converts a string log level to slog.Level. Unknown values map
// to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

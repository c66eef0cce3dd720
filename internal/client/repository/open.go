package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/logging"
)

// ErrNoBackend is returned by Open when no candidate is supported.
var ErrNoBackend = errors.New("no supported storage backend")

// Open tries candidates in order and initializes the first supported one.
// Unselected candidates are closed.
func Open(ctx context.Context, logger logging.Logger, types []string, candidates ...Repository) (Repository, error) {
	var chosen Repository
	for _, c := range candidates {
		if chosen == nil && c.IsSupported(ctx) {
			chosen = c
			continue
		}
		if chosen == nil {
			logger.Debug(ctx, "storage backend not supported", "backend", c.Name())
		}
		_ = c.Close()
	}
	if chosen == nil {
		return nil, ErrNoBackend
	}
	if err := chosen.Init(ctx, types); err != nil {
		_ = chosen.Close()
		return nil, fmt.Errorf("init %s backend: %w", chosen.Name(), err)
	}
	logger.Info(ctx, "storage backend selected", "backend", chosen.Name())
	return chosen, nil
}

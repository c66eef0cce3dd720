package app

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/client/config"
	"github.com/dmitrijs2005/gophsync/internal/client/repository"
	"github.com/dmitrijs2005/gophsync/internal/client/repository/bolt"
	"github.com/dmitrijs2005/gophsync/internal/client/repository/memory"
	"github.com/dmitrijs2005/gophsync/internal/client/repository/objectstore"
	"github.com/dmitrijs2005/gophsync/internal/client/repository/sqlite"
	"github.com/dmitrijs2005/gophsync/internal/filex"
	"github.com/dmitrijs2005/gophsync/internal/logging"
)

// Candidates builds the configured storage backends in preference order.
func Candidates(cfg *config.Config, hook repository.FailHook) ([]repository.Repository, error) {
	var out []repository.Repository
	for _, name := range cfg.Backends {
		switch name {
		case "sqlite":
			out = append(out, sqlite.New(cfg.SQLitePath(), hook))
		case "bolt":
			out = append(out, bolt.New(cfg.BoltPath(), hook))
		case "s3":
			out = append(out, objectstore.New(objectstore.Options{
				Bucket:    cfg.S3Bucket,
				Prefix:    cfg.S3Prefix,
				Region:    cfg.S3Region,
				Endpoint:  cfg.S3Endpoint,
				AccessKey: cfg.S3AccessKey,
				SecretKey: cfg.S3SecretKey,
			}, hook))
		case "memory":
			out = append(out, memory.New(hook))
		default:
			for _, r := range out {
				_ = r.Close()
			}
			return nil, fmt.Errorf("unknown storage backend %q", name)
		}
	}
	return out, nil
}

// OpenRepository picks the first supported backend and initializes it for
// the configured types and the engine's bookkeeping.
func OpenRepository(ctx context.Context, cfg *config.Config, log logging.Logger) (repository.Repository, error) {
	if _, err := filex.EnsureDir(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	candidates, err := Candidates(cfg, repository.LogFailures(log.With("module", "storage")))
	if err != nil {
		return nil, err
	}
	types := append(append([]string(nil), cfg.Types...), repository.MetaType)
	return repository.Open(ctx, log, types, candidates...)
}

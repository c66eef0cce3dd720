package facade

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gophsync/internal/client/query"
	"github.com/dmitrijs2005/gophsync/internal/client/repository"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/timex"
)

// LazyFacade loads a type from the server only when it is first read. Types
// never read are left out of Sync pulls.
type LazyFacade struct {
	*Facade
}

func NewLazy(ctx context.Context, repo repository.Repository, rem Remote, types []string, opts ...Option) (*LazyFacade, error) {
	f, err := newFacade(ctx, repo, rem, types, true, opts...)
	if err != nil {
		return nil, err
	}
	return &LazyFacade{Facade: f}, nil
}

// LastUpdate returns the server version typ was last synced at, or
// timex.Infinity if it never was.
func (l *LazyFacade) LastUpdate(typ string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUpdateLocked(typ)
}

func (l *LazyFacade) Get(ctx context.Context, typ string, id int64) (*entity.Entity, error) {
	if err := l.ensure(ctx, typ); err != nil {
		return nil, err
	}
	return l.Facade.Get(ctx, typ, id)
}

func (l *LazyFacade) List(ctx context.Context, typ string) ([]*entity.Entity, error) {
	if err := l.ensure(ctx, typ); err != nil {
		return nil, err
	}
	return l.Facade.List(ctx, typ)
}

func (l *LazyFacade) Query(ctx context.Context, typ string, filter query.Filter) ([]*entity.Entity, error) {
	list, err := l.List(ctx, typ)
	if err != nil {
		return nil, err
	}
	return query.Apply(list, filter), nil
}

// ensure fetches the full server list of a never-synced type. Offline the
// local copy is served as is and the fetch is retried on the next read.
func (l *LazyFacade) ensure(ctx context.Context, typ string) error {
	if err := l.checkType(typ); err != nil {
		return err
	}
	if l.LastUpdate(typ) != timex.Infinity {
		return nil
	}
	return l.Preload(ctx, typ)
}

// Preload fetches the never-synced types among types in one pass, so later
// reads of them are served locally. With no types it loads every type.
func (l *LazyFacade) Preload(ctx context.Context, types ...string) error {
	if len(types) == 0 {
		types = l.Types()
	}
	for _, t := range types {
		if err := l.checkType(t); err != nil {
			return err
		}
	}
	l.syncMu.Lock()
	defer l.syncMu.Unlock()

	var todo []string
	for _, t := range types {
		if l.LastUpdate(t) == timex.Infinity && !slices.Contains(todo, t) {
			todo = append(todo, t)
		}
	}
	if len(todo) == 0 {
		return nil
	}

	lists, versions, err := l.remote.GetLists(ctx, todo)
	if errors.Is(err, common.ErrOffline) {
		l.log.Info(ctx, "offline, serving local copy", "types", todo)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %v: %w", todo, err)
	}
	for _, t := range todo {
		if err := l.loadFull(ctx, t, lists[t], versions[t]); err != nil {
			return err
		}
	}
	return l.saveMeta(ctx)
}

// loadFull replaces the local server-side copy of typ with the server list.
func (l *LazyFacade) loadFull(ctx context.Context, typ string, server []*entity.Entity, version int64) error {
	// local server-side entities the server no longer has are gone
	local, _ := l.cache.Get(typ)
	var gone []int64
	for _, e := range local {
		if e.ID > 0 {
			if _, ok := entity.Find(server, e.ID); !ok {
				gone = append(gone, e.ID)
			}
		}
	}
	report := &SyncReport{}
	if err := l.mergeServer(ctx, typ, server, gone, report); err != nil {
		return fmt.Errorf("load %s: %w", typ, err)
	}

	l.mu.Lock()
	l.lastUpdate[typ] = version
	if version > l.watermark {
		l.watermark = version
	}
	l.mu.Unlock()
	l.log.Debug(ctx, "type loaded from server", "type", typ, "entities", report.Pulled, "version", version)
	return nil
}

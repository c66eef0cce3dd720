// Package facade is the entry point of the sync engine. It serves reads from
// an in-memory sorted cache, applies mutations locally first, forwards them
// to the server and reconciles the two with an incremental sync.
package facade

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/gophsync/internal/client/cache"
	"github.com/dmitrijs2005/gophsync/internal/client/query"
	"github.com/dmitrijs2005/gophsync/internal/client/remote"
	"github.com/dmitrijs2005/gophsync/internal/client/repository"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/logging"
)

const (
	metaID          = 1
	watermarkField  = "Watermark"
	lastUpdateField = "LastUpdate"
)

// Remote is the part of remote.Provider the facade depends on.
type Remote interface {
	SaveEntity(ctx context.Context, e *entity.Entity) (*remote.Result, error)
	DeleteEntity(ctx context.Context, typ string, id int64) (*remote.Result, error)
	UpdateServer(ctx context.Context, toSave map[string][]*entity.Entity, toDelete map[string][]int64) (*remote.Result, error)
	GetChangesSince(ctx context.Context, since int64, types []string) (*remote.Changes, error)
	GetList(ctx context.Context, typ string) ([]*entity.Entity, int64, error)
	GetLists(ctx context.Context, types []string) (map[string][]*entity.Entity, map[string]int64, error)
	Invalidate(types ...string)
}

// Facade coordinates the repository, the sorted cache, the pending ledger
// and the remote.
//
// Thread-safety: all methods are safe for concurrent use. Mutations of the
// same entity run one at a time; Sync runs one at a time.
type Facade struct {
	repo   repository.Repository
	ledger *repository.Ledger
	cache  *cache.SortedEntityCache
	remote Remote
	log    logging.Logger
	types  []string

	locks  *keyedLock
	syncMu sync.Mutex

	mu         sync.Mutex
	pushing    map[entityKey]struct{}
	nextTemp   int64
	watermark  int64
	lastUpdate map[string]int64
	lazy       bool
}

type Option func(*Facade)

func WithLogger(l logging.Logger) Option {
	return func(f *Facade) { f.log = l }
}

// New loads the local state of the given entity types from repo and returns
// a ready facade. repo must already be initialized.
func New(ctx context.Context, repo repository.Repository, rem Remote, types []string, opts ...Option) (*Facade, error) {
	return newFacade(ctx, repo, rem, types, false, opts...)
}

func newFacade(ctx context.Context, repo repository.Repository, rem Remote, types []string, lazy bool, opts ...Option) (*Facade, error) {
	for _, t := range types {
		if err := repository.ValidateType(t); err != nil {
			return nil, err
		}
		if repository.IsReserved(t) {
			return nil, fmt.Errorf("type %q is reserved: %w", t, common.ErrValidation)
		}
	}
	f := &Facade{
		repo:       repo,
		ledger:     repository.NewLedger(repo),
		cache:      cache.NewSortedEntityCache(),
		remote:     rem,
		log:        logging.Nop(),
		types:      slices.Clone(types),
		locks:      newKeyedLock(),
		pushing:    map[entityKey]struct{}{},
		nextTemp:   -1,
		lastUpdate: map[string]int64{},
		lazy:       lazy,
	}
	for _, o := range opts {
		o(f)
	}
	f.log = f.log.With("module", "facade")
	if err := f.load(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Facade) load(ctx context.Context) error {
	lists := make(map[string][]*entity.Entity, len(f.types))
	for _, t := range f.types {
		list, err := f.repo.GetList(ctx, t)
		if err != nil {
			return fmt.Errorf("load %s: %w", t, err)
		}
		for _, e := range list {
			if e.ID <= f.nextTemp {
				f.nextTemp = e.ID - 1
			}
		}
		lists[t] = list
	}
	f.cache.Extend(lists)

	// pending creates may have been removed from the lists by a rollback
	// that crashed halfway; their IDs must not be reused either
	unsaved, err := f.ledger.GetUnsavedLists(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	for _, list := range unsaved {
		for _, e := range list {
			if e.ID <= f.nextTemp {
				f.nextTemp = e.ID - 1
			}
		}
	}

	meta, err := f.repo.GetItem(ctx, repository.MetaType, metaID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("load sync state: %w", err)
	}
	if w, ok := meta.Get(watermarkField).(entity.Int); ok {
		f.watermark = int64(w)
	}
	if lu, ok := meta.Get(lastUpdateField).(entity.Object); ok {
		for t, v := range lu {
			if n, ok := v.(entity.Int); ok {
				f.lastUpdate[t] = int64(n)
			}
		}
	}
	f.log.Debug(ctx, "local state loaded", "types", len(f.types), "watermark", f.watermark)
	return nil
}

func (f *Facade) saveMeta(ctx context.Context) error {
	f.mu.Lock()
	lu := make(entity.Object, len(f.lastUpdate))
	for t, v := range f.lastUpdate {
		lu[t] = entity.Int(v)
	}
	meta := entity.New(repository.MetaType, metaID, map[string]entity.Value{
		watermarkField:  entity.Int(f.watermark),
		lastUpdateField: lu,
	})
	f.mu.Unlock()
	return f.repo.SaveItem(ctx, repository.MetaType, meta)
}

// Types returns the entity types the facade manages.
func (f *Facade) Types() []string { return slices.Clone(f.types) }

// Watermark is the server version the last successful pull reached.
func (f *Facade) Watermark() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermark
}

// isPushing reports whether the entity is part of the push in flight.
func (f *Facade) isPushing(typ string, id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pushing[entityKey{typ, id}]
	return ok
}

func (f *Facade) tempID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextTemp
	f.nextTemp--
	return id
}

func (f *Facade) checkType(typ string) error {
	if !slices.Contains(f.types, typ) {
		return fmt.Errorf("unknown type %q: %w", typ, common.ErrValidation)
	}
	return nil
}

// Get returns one entity from the local working set.
func (f *Facade) Get(ctx context.Context, typ string, id int64) (*entity.Entity, error) {
	if err := f.checkType(typ); err != nil {
		return nil, err
	}
	return f.cache.GetEntity(typ, id)
}

// List returns the local list of typ sorted by ID.
func (f *Facade) List(ctx context.Context, typ string) ([]*entity.Entity, error) {
	if err := f.checkType(typ); err != nil {
		return nil, err
	}
	list, _ := f.cache.Get(typ)
	if list == nil {
		list = []*entity.Entity{}
	}
	return list, nil
}

// Query returns the local entities of typ matching filter.
func (f *Facade) Query(ctx context.Context, typ string, filter query.Filter) ([]*entity.Entity, error) {
	list, err := f.List(ctx, typ)
	if err != nil {
		return nil, err
	}
	return query.Apply(list, filter), nil
}

// Pending returns the unacknowledged saves and deletes.
func (f *Facade) Pending(ctx context.Context) (map[string][]*entity.Entity, map[string][]int64, error) {
	saves, err := f.ledger.GetUnsavedLists(ctx)
	if err != nil {
		return nil, nil, err
	}
	dels, err := f.ledger.GetDeletedLists(ctx)
	if err != nil {
		return nil, nil, err
	}
	return saves, dels, nil
}

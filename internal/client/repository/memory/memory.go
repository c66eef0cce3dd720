// Package memory is the always-available in-process repository backend.
// Nothing survives a restart.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/dmitrijs2005/gophsync/internal/client/repository"
	"github.com/dmitrijs2005/gophsync/internal/entity"
)

type Repository struct {
	repository.Failer
	mu    sync.RWMutex
	lists map[string][]*entity.Entity
}

func New(hook repository.FailHook) *Repository {
	return &Repository{
		Failer: repository.Failer{Hook: hook},
		lists:  make(map[string][]*entity.Entity),
	}
}

func (r *Repository) Name() string { return "memory" }

func (r *Repository) IsSupported(context.Context) bool { return true }

func (r *Repository) Init(_ context.Context, types []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		if _, ok := r.lists[t]; !ok {
			r.lists[t] = []*entity.Entity{}
		}
	}
	return nil
}

func (r *Repository) GetList(_ context.Context, typ string) ([]*entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return stamp(typ, entity.CloneList(r.lists[typ])), nil
}

func (r *Repository) SaveList(_ context.Context, typ string, items []*entity.Entity) error {
	if err := repository.ValidateType(typ); err != nil {
		return err
	}
	for _, it := range items {
		if err := repository.ValidateItem(typ, it); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists[typ] = entity.Upsert(r.lists[typ], stamp(typ, entity.CloneList(items))...)
	return nil
}

func (r *Repository) GetItem(_ context.Context, typ string, id int64) (*entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := entity.Find(r.lists[typ], id)
	if !ok {
		return nil, repository.NotFound(typ, id)
	}
	return e.Clone(), nil
}

func (r *Repository) SaveItem(ctx context.Context, typ string, item *entity.Entity) error {
	return r.SaveList(ctx, typ, []*entity.Entity{item})
}

func (r *Repository) DeleteItem(ctx context.Context, typ string, id int64) error {
	return r.DeleteItems(ctx, typ, []int64{id})
}

func (r *Repository) DeleteItems(_ context.Context, typ string, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if list, ok := r.lists[typ]; ok {
		r.lists[typ] = entity.RemoveIDs(list, ids...)
	}
	return nil
}

func (r *Repository) DeleteList(_ context.Context, typ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lists, typ)
	return nil
}

func (r *Repository) ClearEntireDatabase(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = make(map[string][]*entity.Entity)
	return nil
}

func (r *Repository) GetLists(_ context.Context, prefix string) (map[string][]*entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]*entity.Entity)
	for t, list := range r.lists {
		if strings.HasPrefix(t, prefix) {
			out[t] = stamp(t, entity.CloneList(list))
		}
	}
	return out, nil
}

func (r *Repository) Close() error { return nil }

func stamp(typ string, list []*entity.Entity) []*entity.Entity {
	for _, e := range list {
		e.Type = typ
	}
	return list
}

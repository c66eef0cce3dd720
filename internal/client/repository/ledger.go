package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
)

// Reserved type names. User types must not start with "__".
const (
	UnsavedPrefix = "__unsaved__"
	DeletedPrefix = "__deleted__"
	MetaType      = "__meta__"
)

// IsReserved reports whether typ belongs to the engine's own bookkeeping.
func IsReserved(typ string) bool { return strings.HasPrefix(typ, "__") }

// Ledger records mutations not yet acknowledged by the server. It is stored
// in the repository itself as ordinary lists under reserved type names, so
// it survives restarts with whatever backend is in use.
//
// Deleted IDs are stored as field-less entities carrying only the ID.
type Ledger struct {
	repo Repository
}

func NewLedger(r Repository) *Ledger {
	return &Ledger{repo: r}
}

// AddUnsaved records the current state of items as pending saves.
func (l *Ledger) AddUnsaved(ctx context.Context, typ string, items ...*entity.Entity) error {
	if len(items) == 0 {
		return nil
	}
	return l.repo.SaveList(ctx, UnsavedPrefix+typ, entity.CloneList(items))
}

func (l *Ledger) RemoveUnsaved(ctx context.Context, typ string, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	return l.repo.DeleteItems(ctx, UnsavedPrefix+typ, ids)
}

// AddDeleted records pending deletes. Only server IDs belong here.
func (l *Ledger) AddDeleted(ctx context.Context, typ string, ids ...int64) error {
	items := make([]*entity.Entity, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("%s: deleted id %d has no server identity: %w", typ, id, common.ErrValidation)
		}
		items = append(items, entity.New(DeletedPrefix+typ, id, nil))
	}
	if len(items) == 0 {
		return nil
	}
	return l.repo.SaveList(ctx, DeletedPrefix+typ, items)
}

func (l *Ledger) RemoveDeleted(ctx context.Context, typ string, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	return l.repo.DeleteItems(ctx, DeletedPrefix+typ, ids)
}

// GetUnsyncLists returns the lists stored under prefix, keyed by the real
// entity type with the prefix stripped. Empty lists are omitted.
func (l *Ledger) GetUnsyncLists(ctx context.Context, prefix string) (map[string][]*entity.Entity, error) {
	raw, err := l.repo.GetLists(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*entity.Entity, len(raw))
	for stored, list := range raw {
		if len(list) == 0 {
			continue
		}
		typ := strings.TrimPrefix(stored, prefix)
		for _, e := range list {
			e.Type = typ
		}
		out[typ] = list
	}
	return out, nil
}

// GetUnsavedLists returns pending saves per type.
func (l *Ledger) GetUnsavedLists(ctx context.Context) (map[string][]*entity.Entity, error) {
	return l.GetUnsyncLists(ctx, UnsavedPrefix)
}

// GetDeletedLists returns pending deletes per type.
func (l *Ledger) GetDeletedLists(ctx context.Context) (map[string][]int64, error) {
	lists, err := l.GetUnsyncLists(ctx, DeletedPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]int64, len(lists))
	for typ, list := range lists {
		ids := make([]int64, 0, len(list))
		for _, e := range list {
			if e.ID <= 0 {
				return nil, fmt.Errorf("%s: deleted id %d: %w", typ, e.ID, common.ErrLedgerCorrupt)
			}
			ids = append(ids, e.ID)
		}
		out[typ] = ids
	}
	return out, nil
}

// GetUnsaved returns the pending save recorded for id, if any.
func (l *Ledger) GetUnsaved(ctx context.Context, typ string, id int64) (*entity.Entity, bool, error) {
	item, err := l.repo.GetItem(ctx, UnsavedPrefix+typ, id)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	item.Type = typ
	return item, true, nil
}

// IsPending reports whether the entity has an unacknowledged local change.
func (l *Ledger) IsPending(ctx context.Context, typ string, id int64) (bool, error) {
	if _, err := l.repo.GetItem(ctx, UnsavedPrefix+typ, id); err == nil {
		return true, nil
	} else if !isNotFound(err) {
		return false, err
	}
	if _, err := l.repo.GetItem(ctx, DeletedPrefix+typ, id); err == nil {
		return true, nil
	} else if !isNotFound(err) {
		return false, err
	}
	return false, nil
}

// Rekey moves a pending save from a temporary ID to the server ID.
func (l *Ledger) Rekey(ctx context.Context, typ string, oldID, newID int64) error {
	item, err := l.repo.GetItem(ctx, UnsavedPrefix+typ, oldID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if err := l.repo.DeleteItem(ctx, UnsavedPrefix+typ, oldID); err != nil {
		return err
	}
	item.ID = newID
	return l.repo.SaveItem(ctx, UnsavedPrefix+typ, item)
}

// Empty reports whether nothing is pending.
func (l *Ledger) Empty(ctx context.Context) (bool, error) {
	saves, err := l.GetUnsavedLists(ctx)
	if err != nil {
		return false, err
	}
	dels, err := l.GetDeletedLists(ctx)
	if err != nil {
		return false, err
	}
	return len(saves) == 0 && len(dels) == 0, nil
}

func isNotFound(err error) bool { return errors.Is(err, common.ErrNotFound) }

package facade

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
)

func isNotFound(err error) bool { return errors.Is(err, common.ErrNotFound) }

// Create stores a new entity under a temporary negative ID, then sends it.
// When the server accepts it the temporary ID is replaced everywhere by the
// server ID. Offline, the entity stays local and pending. Any other failure
// removes it again and is returned.
func (f *Facade) Create(ctx context.Context, e *entity.Entity) (*entity.Entity, error) {
	if e == nil {
		return nil, fmt.Errorf("create: nil entity: %w", common.ErrValidation)
	}
	if err := f.checkType(e.Type); err != nil {
		return nil, err
	}
	item := e.Clone()
	item.ID = f.tempID()

	unlock := f.locks.Lock(item.Type, item.ID)
	defer unlock()

	if err := f.applySave(ctx, item); err != nil {
		f.logRestore(ctx, item, f.restore(ctx, item, nil, nil))
		return nil, err
	}
	return f.dispatchSave(ctx, item, nil, nil)
}

// Update replaces an existing entity locally and sends it.
func (f *Facade) Update(ctx context.Context, e *entity.Entity) (*entity.Entity, error) {
	if e == nil {
		return nil, fmt.Errorf("update: nil entity: %w", common.ErrValidation)
	}
	if err := f.checkType(e.Type); err != nil {
		return nil, err
	}
	if e.ID == 0 {
		return nil, fmt.Errorf("update %s: entity without ID: %w", e.Type, common.ErrValidation)
	}
	item := e.Clone()

	unlock := f.locks.Lock(item.Type, item.ID)
	defer unlock()

	prev, prevPending, err := f.snapshot(ctx, item.Type, item.ID)
	if err != nil {
		return nil, err
	}
	if err := f.applySave(ctx, item); err != nil {
		f.logRestore(ctx, item, f.restore(ctx, item, prev, prevPending))
		return nil, err
	}
	return f.dispatchSave(ctx, item, prev, prevPending)
}

// Delete removes an entity locally and on the server. Entities that never
// reached the server are only removed locally.
func (f *Facade) Delete(ctx context.Context, typ string, id int64) error {
	if err := f.checkType(typ); err != nil {
		return err
	}
	unlock := f.locks.Lock(typ, id)
	defer unlock()

	prev, prevPending, err := f.snapshot(ctx, typ, id)
	if err != nil {
		return err
	}
	if err := f.applyDelete(ctx, typ, id); err != nil {
		f.logRestore(ctx, prev, f.restoreDeleted(ctx, prev, prevPending))
		return err
	}
	if id <= 0 {
		return nil
	}
	if f.isPushing(typ, id) {
		f.log.Info(ctx, "delete queued behind push", "type", typ, "id", id)
		return nil
	}

	res, err := f.remote.DeleteEntity(ctx, typ, id)
	switch {
	case err != nil:
		f.logRestore(ctx, prev, f.restoreDeleted(ctx, prev, prevPending))
		return err
	case res == nil || res.Offline:
		f.log.Info(ctx, "delete queued", "type", typ, "id", id)
		return nil
	}
	return f.ledger.RemoveDeleted(ctx, typ, id)
}

// snapshot reads the state a failed mutation is rolled back to.
func (f *Facade) snapshot(ctx context.Context, typ string, id int64) (*entity.Entity, *entity.Entity, error) {
	prev, err := f.repo.GetItem(ctx, typ, id)
	if err != nil {
		return nil, nil, err
	}
	prev.Type = typ
	pending, _, err := f.ledger.GetUnsaved(ctx, typ, id)
	if err != nil {
		return nil, nil, err
	}
	return prev, pending, nil
}

func (f *Facade) applySave(ctx context.Context, item *entity.Entity) error {
	f.cache.Put(item.Clone())
	if err := f.repo.SaveItem(ctx, item.Type, item); err != nil {
		return err
	}
	return f.ledger.AddUnsaved(ctx, item.Type, item)
}

func (f *Facade) applyDelete(ctx context.Context, typ string, id int64) error {
	f.cache.Remove(typ, id)
	if err := f.repo.DeleteItem(ctx, typ, id); err != nil {
		return err
	}
	if err := f.ledger.RemoveUnsaved(ctx, typ, id); err != nil {
		return err
	}
	if id > 0 {
		return f.ledger.AddDeleted(ctx, typ, id)
	}
	return nil
}

func (f *Facade) dispatchSave(ctx context.Context, item, prev, prevPending *entity.Entity) (*entity.Entity, error) {
	// the next Sync sends it once the server has answered for the old state
	if f.isPushing(item.Type, item.ID) {
		f.log.Info(ctx, "save queued behind push", "type", item.Type, "id", item.ID)
		return item.Clone(), nil
	}
	res, err := f.remote.SaveEntity(ctx, item.Clone())
	switch {
	case err != nil:
		f.logRestore(ctx, item, f.restore(ctx, item, prev, prevPending))
		return nil, err
	case res == nil:
		f.log.Debug(ctx, "save vetoed, kept local", "type", item.Type, "id", item.ID)
		return item.Clone(), nil
	case res.Offline:
		f.log.Info(ctx, "save queued", "type", item.Type, "id", item.ID)
		return item.Clone(), nil
	case len(res.Results) == 0:
		return item.Clone(), nil
	}

	newID := res.Results[0].ID
	if newID > 0 && newID != item.ID {
		if err := f.rekey(ctx, item.Type, item.ID, newID); err != nil {
			return nil, fmt.Errorf("confirm %s/%d: %w", item.Type, item.ID, err)
		}
		item = item.Clone()
		item.ID = newID
	}
	if err := f.ledger.RemoveUnsaved(ctx, item.Type, item.ID); err != nil {
		return nil, fmt.Errorf("confirm %s/%d: %w", item.Type, item.ID, err)
	}
	return item.Clone(), nil
}

// rekey moves an entity from a temporary ID to its server ID in the cache,
// the repository and the ledger.
func (f *Facade) rekey(ctx context.Context, typ string, oldID, newID int64) error {
	f.cache.ReplaceID(typ, oldID, newID)
	cur, err := f.repo.GetItem(ctx, typ, oldID)
	switch {
	case err == nil:
		if err := f.repo.DeleteItem(ctx, typ, oldID); err != nil {
			return err
		}
		cur.ID = newID
		if err := f.repo.SaveItem(ctx, typ, cur); err != nil {
			return err
		}
	case !isNotFound(err):
		return err
	}
	if err := f.ledger.Rekey(ctx, typ, oldID, newID); err != nil {
		return err
	}
	f.log.Debug(ctx, "temporary id replaced", "type", typ, "old", oldID, "new", newID)
	return nil
}

// restore undoes applySave. prev is nil for a create.
func (f *Facade) restore(ctx context.Context, item, prev, prevPending *entity.Entity) error {
	var errs []error
	if prev == nil {
		f.cache.Remove(item.Type, item.ID)
		errs = append(errs, f.repo.DeleteItem(ctx, item.Type, item.ID))
	} else {
		f.cache.Put(prev.Clone())
		errs = append(errs, f.repo.SaveItem(ctx, item.Type, prev))
	}
	if prevPending != nil {
		errs = append(errs, f.ledger.AddUnsaved(ctx, item.Type, prevPending))
	} else {
		errs = append(errs, f.ledger.RemoveUnsaved(ctx, item.Type, item.ID))
	}
	return errors.Join(errs...)
}

// restoreDeleted undoes applyDelete.
func (f *Facade) restoreDeleted(ctx context.Context, prev, prevPending *entity.Entity) error {
	f.cache.Put(prev.Clone())
	errs := []error{f.repo.SaveItem(ctx, prev.Type, prev)}
	if prev.ID > 0 {
		errs = append(errs, f.ledger.RemoveDeleted(ctx, prev.Type, prev.ID))
	}
	if prevPending != nil {
		errs = append(errs, f.ledger.AddUnsaved(ctx, prev.Type, prevPending))
	}
	return errors.Join(errs...)
}

func (f *Facade) logRestore(ctx context.Context, item *entity.Entity, err error) {
	if err != nil {
		f.log.Error(ctx, "rollback incomplete", "type", item.Type, "id", item.ID, "error", err)
	} else {
		f.log.Debug(ctx, "rolled back", "type", item.Type, "id", item.ID)
	}
}

// CreateAsync runs Create in the background.
func (f *Facade) CreateAsync(ctx context.Context, e *entity.Entity) *Future[*entity.Entity] {
	return Go(func() (*entity.Entity, error) { return f.Create(ctx, e) })
}

func (f *Facade) UpdateAsync(ctx context.Context, e *entity.Entity) *Future[*entity.Entity] {
	return Go(func() (*entity.Entity, error) { return f.Update(ctx, e) })
}

func (f *Facade) DeleteAsync(ctx context.Context, typ string, id int64) *Future[struct{}] {
	return Go(func() (struct{}, error) { return struct{}{}, f.Delete(ctx, typ, id) })
}

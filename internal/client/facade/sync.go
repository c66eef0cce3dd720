package facade

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gophsync/internal/client/repository"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/timex"
	"github.com/dmitrijs2005/gophsync/internal/wire"
)

// SyncReport summarizes one Sync.
type SyncReport struct {
	Pushed    int
	Rejected  int
	Pulled    int
	Removed   int
	// Skipped counts entities left alone because they had a pending local
	// change or a mutation was working on them.
	Skipped   int
	Watermark int64
	Offline   bool
}

// Sync pushes the pending ledger, then pulls server changes since the
// watermark and merges them into the local state. Entities with a pending
// local change are not overwritten by the pull. Offline, the report has
// Offline set and the error wraps common.ErrOffline. Entities the server
// rejected are reverted to the server's copy and reported as
// *common.SyncConflictError after the pull completes.
func (f *Facade) Sync(ctx context.Context) (*SyncReport, error) {
	f.syncMu.Lock()
	defer f.syncMu.Unlock()

	ctx = logging.ContextWith(ctx, "sync_from", f.Watermark())
	report := &SyncReport{}
	conflicts, err := f.push(ctx, report)
	if err != nil {
		if errors.Is(err, common.ErrOffline) {
			report.Offline = true
			report.Watermark = f.Watermark()
		}
		return report, err
	}

	if err := f.pull(ctx, report); err != nil {
		if errors.Is(err, common.ErrOffline) {
			report.Offline = true
		}
		report.Watermark = f.Watermark()
		return report, errors.Join(append([]error{err}, conflicts...)...)
	}
	report.Watermark = f.Watermark()
	f.log.Info(ctx, "sync finished",
		"pushed", report.Pushed, "rejected", report.Rejected,
		"pulled", report.Pulled, "removed", report.Removed, "watermark", report.Watermark)
	return report, errors.Join(conflicts...)
}

// SyncAsync runs Sync in the background.
func (f *Facade) SyncAsync(ctx context.Context) *Future[*SyncReport] {
	return Go(func() (*SyncReport, error) { return f.Sync(ctx) })
}

func (f *Facade) push(ctx context.Context, report *SyncReport) ([]error, error) {
	saves, dels, err := f.claim(ctx, report)
	defer f.unclaim()
	if err != nil {
		return nil, err
	}
	res, err := f.remote.UpdateServer(ctx, saves, dels)
	if err != nil && !errors.Is(err, common.ErrSyncConflict) {
		return nil, fmt.Errorf("push: %w", err)
	}
	if res == nil {
		return nil, nil
	}
	if res.Offline {
		return nil, fmt.Errorf("push: %w", common.ErrOffline)
	}

	sent := map[entityKey]*entity.Entity{}
	for typ, list := range saves {
		for _, e := range list {
			sent[entityKey{typ, e.ID}] = e
		}
	}

	var conflicts []error
	rejected := map[string][]int64{}
	for _, r := range res.Results {
		key := entityKey{r.Type, r.ClientID}
		if !r.OK() {
			conflicts = append(conflicts, &common.SyncConflictError{Type: r.Type, ID: r.ClientID, Errors: r.Errors})
			rejected[r.Type] = append(rejected[r.Type], r.ClientID)
			report.Rejected++
			continue
		}
		if e, ok := sent[key]; ok {
			if err := f.ackSave(ctx, e, r.ID); err != nil {
				return conflicts, err
			}
		} else if err := f.ledger.RemoveDeleted(ctx, r.Type, r.ClientID); err != nil {
			return conflicts, err
		}
		report.Pushed++
	}
	for _, typ := range wire.SortedTypes(rejected) {
		if err := f.revert(ctx, typ, rejected[typ], sent); err != nil {
			return conflicts, err
		}
	}
	return conflicts, nil
}

// claim marks the pending entities no mutation is working on as being
// pushed and returns their current ledger entries. Busy entities are
// counted as skipped and left for the next Sync. Mutations that start on
// a claimed entity stay local until the push has been answered.
func (f *Facade) claim(ctx context.Context, report *SyncReport) (map[string][]*entity.Entity, map[string][]int64, error) {
	saves, dels, err := f.Pending(ctx)
	if err != nil {
		return nil, nil, err
	}
	try := func(typ string, id int64) {
		unlock, ok := f.locks.TryLock(typ, id)
		if !ok {
			report.Skipped++
			f.log.Debug(ctx, "entity busy, left for next sync", "type", typ, "id", id)
			return
		}
		f.mu.Lock()
		f.pushing[entityKey{typ, id}] = struct{}{}
		f.mu.Unlock()
		unlock()
	}
	for _, typ := range wire.SortedTypes(saves) {
		for _, e := range saves[typ] {
			try(typ, e.ID)
		}
	}
	for _, typ := range wire.SortedTypes(dels) {
		for _, id := range dels[typ] {
			try(typ, id)
		}
	}

	// entries may have changed before they were claimed
	saves, dels, err = f.Pending(ctx)
	if err != nil {
		return nil, nil, err
	}
	for typ, list := range saves {
		saves[typ] = slices.DeleteFunc(list, func(e *entity.Entity) bool { return !f.isPushing(typ, e.ID) })
	}
	for typ, ids := range dels {
		dels[typ] = slices.DeleteFunc(ids, func(id int64) bool { return !f.isPushing(typ, id) })
	}
	return saves, dels, nil
}

func (f *Facade) unclaim() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.pushing)
}

// ackSave confirms a pushed save. A newer local change made while the push
// was in flight stays pending. A new entity deleted locally while the push
// was in flight gets its server copy queued for deletion.
func (f *Facade) ackSave(ctx context.Context, sent *entity.Entity, serverID int64) error {
	unlock := f.locks.Lock(sent.Type, sent.ID)
	defer unlock()

	id := sent.ID
	if serverID > 0 && serverID != id {
		if _, err := f.repo.GetItem(ctx, sent.Type, id); isNotFound(err) {
			f.log.Debug(ctx, "entity deleted during push", "type", sent.Type, "id", id, "server_id", serverID)
			return f.ledger.AddDeleted(ctx, sent.Type, serverID)
		} else if err != nil {
			return err
		}
		if err := f.rekey(ctx, sent.Type, id, serverID); err != nil {
			return err
		}
		id = serverID
	}
	cur, ok, err := f.ledger.GetUnsaved(ctx, sent.Type, id)
	if err != nil || !ok {
		return err
	}
	if !entity.Equal(entity.Object(cur.Fields), entity.Object(sent.Fields)) {
		f.log.Debug(ctx, "entity changed during push, kept pending", "type", sent.Type, "id", id)
		return nil
	}
	return f.ledger.RemoveUnsaved(ctx, sent.Type, id)
}

// revert drops rejected changes and restores the server's copy of the
// affected entities.
func (f *Facade) revert(ctx context.Context, typ string, ids []int64, sent map[entityKey]*entity.Entity) error {
	f.remote.Invalidate(typ)
	var server []*entity.Entity
	needServer := slices.ContainsFunc(ids, func(id int64) bool { return id > 0 })
	if needServer {
		list, _, err := f.remote.GetList(ctx, typ)
		if err != nil {
			return fmt.Errorf("revert %s: %w", typ, err)
		}
		server = list
	}
	for _, id := range ids {
		unlock := f.locks.Lock(typ, id)
		err := f.revertOne(ctx, typ, id, server, sent)
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *Facade) revertOne(ctx context.Context, typ string, id int64, server []*entity.Entity, sent map[entityKey]*entity.Entity) error {
	if _, wasSave := sent[entityKey{typ, id}]; wasSave {
		if err := f.ledger.RemoveUnsaved(ctx, typ, id); err != nil {
			return err
		}
	} else if err := f.ledger.RemoveDeleted(ctx, typ, id); err != nil {
		return err
	}
	if e, ok := entity.Find(server, id); ok && id > 0 {
		f.cache.Put(e.Clone())
		return f.repo.SaveItem(ctx, typ, e)
	}
	f.cache.Remove(typ, id)
	return f.repo.DeleteItem(ctx, typ, id)
}

// pullPlan returns the watermark to pull from and the types to pull.
// Lazy facades skip types never loaded from the server and start from the
// oldest last update among the rest.
func (f *Facade) pullPlan() (int64, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.lazy {
		return f.watermark, slices.Clone(f.types)
	}
	since := timex.Infinity
	var types []string
	for _, t := range f.types {
		lu := f.lastUpdateLocked(t)
		if lu == timex.Infinity {
			continue
		}
		types = append(types, t)
		since = min(since, lu)
	}
	return since, types
}

func (f *Facade) pull(ctx context.Context, report *SyncReport) error {
	since, types := f.pullPlan()
	if len(types) == 0 {
		return nil
	}
	changes, err := f.remote.GetChangesSince(ctx, since, types)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	for _, typ := range types {
		if err := f.mergeServer(ctx, typ, changes.Changes[typ], changes.Deleted[typ], report); err != nil {
			return fmt.Errorf("merge %s: %w", typ, err)
		}
	}

	f.mu.Lock()
	f.watermark = changes.Version
	for _, t := range types {
		f.lastUpdate[t] = changes.Version
	}
	f.mu.Unlock()
	return f.saveMeta(ctx)
}

// mergeServer applies server entities and tombstones of one type, skipping
// entities with a pending local change and entities a mutation is working
// on. The merged entities stay locked until they are written.
func (f *Facade) mergeServer(ctx context.Context, typ string, changed []*entity.Entity, deleted []int64, report *SyncReport) error {
	held := map[int64]func(){}
	defer func() {
		for _, unlock := range held {
			unlock()
		}
	}()
	// TryLock never waits, so holding several keys cannot deadlock
	take := func(id int64) (bool, error) {
		if _, ok := held[id]; ok {
			return true, nil
		}
		unlock, ok := f.locks.TryLock(typ, id)
		if !ok {
			report.Skipped++
			return false, nil
		}
		pending, err := f.ledger.IsPending(ctx, typ, id)
		if err != nil || pending {
			unlock()
			if pending {
				report.Skipped++
			}
			return false, err
		}
		held[id] = unlock
		return true, nil
	}

	var toSave []*entity.Entity
	for _, e := range changed {
		ok, err := take(e.ID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		e.Type = typ
		toSave = append(toSave, e)
	}
	var toRemove []int64
	for _, id := range deleted {
		ok, err := take(id)
		if err != nil {
			return err
		}
		if ok {
			toRemove = append(toRemove, id)
		}
	}

	if len(toSave) > 0 {
		if err := f.repo.SaveList(ctx, typ, toSave); err != nil {
			return err
		}
		f.cache.Merge(typ, entity.CloneList(toSave))
	}
	if len(toRemove) > 0 {
		if err := f.repo.DeleteItems(ctx, typ, toRemove); err != nil {
			return err
		}
		f.cache.Remove(typ, toRemove...)
	}
	report.Pulled += len(toSave)
	report.Removed += len(toRemove)
	return nil
}

func (f *Facade) lastUpdateLocked(typ string) int64 {
	if v, ok := f.lastUpdate[typ]; ok {
		return v
	}
	return timex.Infinity
}

// ClearLocal wipes the local store, including pending changes and the
// watermark, so the next Sync starts from scratch.
func (f *Facade) ClearLocal(ctx context.Context) error {
	f.syncMu.Lock()
	defer f.syncMu.Unlock()
	if err := f.repo.ClearEntireDatabase(ctx); err != nil {
		return err
	}
	if err := f.repo.Init(ctx, append(f.Types(), repository.MetaType)); err != nil {
		return err
	}
	empty := make(map[string][]*entity.Entity, len(f.types))
	for _, t := range f.types {
		empty[t] = []*entity.Entity{}
	}
	f.cache.Clear()
	f.cache.Extend(empty)
	f.mu.Lock()
	f.watermark = 0
	f.lastUpdate = map[string]int64{}
	f.mu.Unlock()
	f.remote.Invalidate(f.types...)
	return nil
}

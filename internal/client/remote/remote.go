// Package remote talks to the sync server on behalf of the facade. It turns
// entities into wire bodies, sends them through a Transport and reports
// connectivity loss as an Offline result instead of an error.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gophsync/internal/client/cache"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/wire"
)

// Transport performs one action round trip. Implementations wrap network
// failures with common.ErrOffline.
type Transport interface {
	Call(ctx context.Context, action string, req, resp any) error
}

// PreSaveHook may veto sending an entity. Returning false skips it.
type PreSaveHook func(typ string, e *entity.Entity) bool

// Result is the outcome of a mutating call.
type Result struct {
	// Offline is set when the server could not be reached. Nothing else is.
	Offline bool
	Results []wire.EntityResult
	Version int64
}

// IDMap returns client ID to server ID for every accepted entity. The
// facade acks result by result; IDMap serves callers of the batch calls.
func (r *Result) IDMap() map[int64]int64 {
	out := map[int64]int64{}
	if r == nil {
		return out
	}
	for _, res := range r.Results {
		if res.OK() {
			out[res.ClientID] = res.ID
		}
	}
	return out
}

func offline() *Result { return &Result{Offline: true} }

// Changes is the body of an incremental pull.
type Changes struct {
	Changes map[string][]*entity.Entity
	Deleted map[string][]int64
	Version int64
}

type Provider struct {
	transport Transport
	lists     *cache.ReadThroughCache
	onPreSave PreSaveHook
	log       logging.Logger

	mu       sync.Mutex
	versions map[string]int64
}

type Option func(*Provider)

// WithPreSave installs the veto hook consulted before every save.
func WithPreSave(h PreSaveHook) Option {
	return func(p *Provider) { p.onPreSave = h }
}

// WithListCache makes GetList read through c.
func WithListCache(c *cache.ReadThroughCache) Option {
	return func(p *Provider) { p.lists = c }
}

func WithLogger(l logging.Logger) Option {
	return func(p *Provider) { p.log = l }
}

func New(t Transport, opts ...Option) *Provider {
	p := &Provider{
		transport: t,
		log:       logging.Nop(),
		versions:  map[string]int64{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.lists == nil {
		p.lists = cache.NewReadThroughCache(0)
	}
	p.log = p.log.With("module", "remote")
	return p
}

func (p *Provider) allowed(typ string, e *entity.Entity) bool {
	return p.onPreSave == nil || p.onPreSave(typ, e)
}

// call runs one action. ok is false when the server was unreachable.
func (p *Provider) call(ctx context.Context, action string, req, resp any) (bool, error) {
	err := p.transport.Call(ctx, action, req, resp)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, common.ErrOffline) {
		p.log.Warn(ctx, "server unreachable", "action", action, "error", err)
		return false, nil
	}
	return false, fmt.Errorf("%s: %w", action, err)
}

// SaveEntity sends one entity. A vetoed entity yields a nil result.
func (p *Provider) SaveEntity(ctx context.Context, e *entity.Entity) (*Result, error) {
	if !p.allowed(e.Type, e) {
		return nil, nil
	}
	var res wire.EntityResult
	ok, err := p.call(ctx, wire.ActionSaveEntity, wire.SaveEntityRequest{Type: e.Type, Entity: e}, &res)
	if err != nil {
		return nil, err
	}
	if !ok {
		return offline(), nil
	}
	if res.Type == "" {
		res.Type = e.Type
	}
	p.lists.InvalidateCache(e.Type)
	return &Result{Results: []wire.EntityResult{res}}, conflicts(res)
}

// SaveEntities sends several types in one call. The facade pushes through
// UpdateServer; this and DeleteEntities are for callers that batch their
// own writes without a local store.
func (p *Provider) SaveEntities(ctx context.Context, byType map[string][]*entity.Entity) (*Result, error) {
	toSave := p.filter(byType)
	if len(toSave) == 0 {
		return nil, nil
	}
	pkg, err := wire.ConvertToPolymorphicablePackage(toSave)
	if err != nil {
		return nil, err
	}
	var resp wire.ResultsResponse
	ok, err := p.call(ctx, wire.ActionSaveEntities, wire.SaveEntitiesRequest{Data: pkg}, &resp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return offline(), nil
	}
	p.invalidate(wire.SortedTypes(toSave)...)
	return &Result{Results: resp.Results, Version: resp.Version}, conflicts(resp.Results...)
}

func (p *Provider) DeleteEntity(ctx context.Context, typ string, id int64) (*Result, error) {
	var res wire.EntityResult
	ok, err := p.call(ctx, wire.ActionDeleteEntity, wire.DeleteEntityRequest{Type: typ, ID: id}, &res)
	if err != nil {
		return nil, err
	}
	if !ok {
		return offline(), nil
	}
	if res.Type == "" {
		res.Type = typ
	}
	p.lists.InvalidateCache(typ)
	return &Result{Results: []wire.EntityResult{res}}, conflicts(res)
}

func (p *Provider) DeleteEntities(ctx context.Context, typ string, ids []int64) (*Result, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var resp wire.ResultsResponse
	ok, err := p.call(ctx, wire.ActionDeleteEntities, wire.DeleteEntitiesRequest{Type: typ, IDs: ids}, &resp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return offline(), nil
	}
	for i := range resp.Results {
		if resp.Results[i].Type == "" {
			resp.Results[i].Type = typ
		}
	}
	p.lists.InvalidateCache(typ)
	return &Result{Results: resp.Results, Version: resp.Version}, conflicts(resp.Results...)
}

// UpdateServer pushes pending saves and deletes in one call. With nothing
// to send it returns nil without touching the network.
func (p *Provider) UpdateServer(ctx context.Context, toSave map[string][]*entity.Entity, toDelete map[string][]int64) (*Result, error) {
	toSave = p.filter(toSave)
	dels := make(map[string][]int64, len(toDelete))
	for typ, ids := range toDelete {
		if len(ids) > 0 {
			dels[typ] = ids
		}
	}
	if len(toSave) == 0 && len(dels) == 0 {
		return nil, nil
	}
	pkg, err := wire.ConvertToPolymorphicablePackage(toSave)
	if err != nil {
		return nil, err
	}
	var resp wire.ResultsResponse
	ok, err := p.call(ctx, wire.ActionUpdateServer, wire.UpdateServerRequest{ToSave: pkg, ToDelete: dels}, &resp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return offline(), nil
	}
	p.invalidate(wire.SortedTypes(toSave)...)
	p.invalidate(wire.SortedTypes(dels)...)
	p.log.Debug(ctx, "server updated", "saved", len(pkg), "deleted", len(dels), "version", resp.Version)
	return &Result{Results: resp.Results, Version: resp.Version}, conflicts(resp.Results...)
}

// GetChangesSince pulls everything of the given types modified after since.
// It returns an error wrapping common.ErrOffline when unreachable.
func (p *Provider) GetChangesSince(ctx context.Context, since int64, types []string) (*Changes, error) {
	var resp wire.ChangesResponse
	ok, err := p.call(ctx, wire.ActionGetChangesSince, wire.ChangesRequest{Since: since, Types: types}, &resp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", wire.ActionGetChangesSince, common.ErrOffline)
	}
	changes, err := wire.ParsePolymorphicablePackage(resp.Changes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wire.ActionGetChangesSince, err)
	}
	for typ := range changes {
		p.lists.InvalidateCache(typ)
	}
	for typ := range resp.Deleted {
		p.lists.InvalidateCache(typ)
	}
	deleted := resp.Deleted
	if deleted == nil {
		deleted = map[string][]int64{}
	}
	return &Changes{Changes: changes, Deleted: deleted, Version: resp.Version}, nil
}

// GetList returns the full server list of typ, served from the read-through
// cache while fresh. The version is the server watermark the list reflects.
func (p *Provider) GetList(ctx context.Context, typ string) ([]*entity.Entity, int64, error) {
	if list, ok := p.lists.GetCachedList(typ); ok {
		p.mu.Lock()
		v := p.versions[typ]
		p.mu.Unlock()
		return list, v, nil
	}
	var resp wire.ListResponse
	ok, err := p.call(ctx, wire.ActionGetList, wire.ListRequest{Type: typ}, &resp)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("%s: %w", wire.ActionGetList, common.ErrOffline)
	}
	list, err := entity.DecodeList(typ, []byte(resp.Data))
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", wire.ActionGetList, err)
	}
	p.lists.UpdateList(typ, list)
	p.mu.Lock()
	p.versions[typ] = resp.Version
	p.mu.Unlock()
	return entity.CloneList(list), resp.Version, nil
}

// GetLists returns the full server lists of several types and the version
// each reflects. Fresh cached lists are served without a round trip.
func (p *Provider) GetLists(ctx context.Context, types []string) (map[string][]*entity.Entity, map[string]int64, error) {
	lists, missing := p.lists.GetLists(types)
	versions := make(map[string]int64, len(types))
	p.mu.Lock()
	for t := range lists {
		versions[t] = p.versions[t]
	}
	p.mu.Unlock()
	for _, t := range missing {
		list, v, err := p.GetList(ctx, t)
		if err != nil {
			return nil, nil, err
		}
		lists[t] = list
		versions[t] = v
	}
	return lists, versions, nil
}

// Invalidate drops cached server lists so the next GetList refetches.
func (p *Provider) Invalidate(types ...string) {
	p.invalidate(types...)
}

func (p *Provider) invalidate(types ...string) {
	for _, t := range types {
		p.lists.InvalidateCache(t)
	}
}

func (p *Provider) filter(byType map[string][]*entity.Entity) map[string][]*entity.Entity {
	out := make(map[string][]*entity.Entity, len(byType))
	for typ, list := range byType {
		kept := make([]*entity.Entity, 0, len(list))
		for _, e := range list {
			if p.allowed(typ, e) {
				kept = append(kept, e)
			}
		}
		if len(kept) > 0 {
			out[typ] = kept
		}
	}
	return out
}

// conflicts joins a *common.SyncConflictError for every rejected entity.
func conflicts(results ...wire.EntityResult) error {
	var errs []error
	for _, r := range results {
		if !r.OK() {
			errs = append(errs, &common.SyncConflictError{Type: r.Type, ID: r.ClientID, Errors: r.Errors})
		}
	}
	return errors.Join(errs...)
}

// Package remotetest provides an in-process sync server that satisfies
// remote.Transport, for tests of the remote provider and the facade.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/wire"
)

type stored struct {
	e       *entity.Entity
	version int64
}

// Server keeps versioned entity lists in memory and answers every sync
// action the way the reference server does.
type Server struct {
	mu      sync.Mutex
	version int64
	nextID  int64
	lists   map[string]map[int64]stored
	tombs   map[string]map[int64]int64
	offline bool
	calls   []string

	// Reject, when set, returns the errors the server reports for a save.
	Reject func(typ string, e *entity.Entity) []string
}

func NewServer() *Server {
	return &Server{
		nextID: 100,
		lists:  map[string]map[int64]stored{},
		tombs:  map[string]map[int64]int64{},
	}
}

// SetOffline makes every call fail as unreachable.
func (s *Server) SetOffline(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = v
}

// Calls returns the actions served so far, offline attempts included.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Server) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Seed stores entities as if another client had saved them. Entities
// without a server ID get one.
func (s *Server) Seed(typ string, items ...*entity.Entity) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(items))
	for _, e := range items {
		ids = append(ids, s.save(typ, e).ID)
	}
	return ids
}

// Remove deletes entities as if another client had deleted them.
func (s *Server) Remove(typ string, ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.remove(typ, id)
	}
}

// Entities returns the server's copy of typ, sorted by ID.
func (s *Server) Entities(typ string) []*entity.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(typ)
}

func (s *Server) list(typ string) []*entity.Entity {
	out := make([]*entity.Entity, 0, len(s.lists[typ]))
	for _, st := range s.lists[typ] {
		out = append(out, st.e.Clone())
	}
	entity.SortByID(out)
	return out
}

func (s *Server) save(typ string, e *entity.Entity) wire.EntityResult {
	res := wire.EntityResult{Type: typ, ClientID: e.ID}
	if s.Reject != nil {
		if errs := s.Reject(typ, e); len(errs) > 0 {
			res.Errors = errs
			return res
		}
	}
	c := e.Clone()
	c.Type = typ
	if c.ID <= 0 {
		s.nextID++
		c.ID = s.nextID
	}
	s.version++
	if s.lists[typ] == nil {
		s.lists[typ] = map[int64]stored{}
	}
	s.lists[typ][c.ID] = stored{e: c, version: s.version}
	delete(s.tombs[typ], c.ID)
	res.ID = c.ID
	return res
}

func (s *Server) remove(typ string, id int64) wire.EntityResult {
	s.version++
	delete(s.lists[typ], id)
	if s.tombs[typ] == nil {
		s.tombs[typ] = map[int64]int64{}
	}
	s.tombs[typ][id] = s.version
	return wire.EntityResult{Type: typ, ClientID: id, ID: id}
}

// Call implements remote.Transport. Bodies go through JSON both ways.
func (s *Server) Call(ctx context.Context, action string, req, resp any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, action)
	if s.offline {
		return fmt.Errorf("dial: %w", common.ErrOffline)
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	out, err := s.serve(action, raw)
	if err != nil {
		return err
	}
	body, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, resp)
}

func (s *Server) serve(action string, raw []byte) (any, error) {
	switch action {
	case wire.ActionSaveEntity:
		var req wire.SaveEntityRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		if req.Entity == nil {
			return nil, fmt.Errorf("missing entity: %w", common.ErrValidation)
		}
		return s.save(req.Type, req.Entity), nil

	case wire.ActionSaveEntities:
		var req wire.SaveEntitiesRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		results, err := s.saveAll(req.Data)
		if err != nil {
			return nil, err
		}
		return wire.ResultsResponse{Results: results, Version: s.version}, nil

	case wire.ActionDeleteEntity:
		var req wire.DeleteEntityRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return s.remove(req.Type, req.ID), nil

	case wire.ActionDeleteEntities:
		var req wire.DeleteEntitiesRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		var results []wire.EntityResult
		for _, id := range req.IDs {
			results = append(results, s.remove(req.Type, id))
		}
		return wire.ResultsResponse{Results: results, Version: s.version}, nil

	case wire.ActionUpdateServer:
		var req wire.UpdateServerRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		results, err := s.saveAll(req.ToSave)
		if err != nil {
			return nil, err
		}
		for _, typ := range wire.SortedTypes(req.ToDelete) {
			for _, id := range req.ToDelete[typ] {
				results = append(results, s.remove(typ, id))
			}
		}
		return wire.ResultsResponse{Results: results, Version: s.version}, nil

	case wire.ActionGetChangesSince:
		var req wire.ChangesRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return s.changes(req)

	case wire.ActionGetList:
		var req wire.ListRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		data, err := entity.EncodeList(s.list(req.Type))
		if err != nil {
			return nil, err
		}
		return wire.ListResponse{Type: req.Type, Data: string(data), Version: s.version}, nil

	case wire.ActionPing:
		return wire.PingResponse{Status: "OK", Version: s.version}, nil
	}
	return nil, fmt.Errorf("unknown action %q", action)
}

func (s *Server) saveAll(pkg map[string]string) ([]wire.EntityResult, error) {
	lists, err := wire.ParsePolymorphicablePackage(pkg)
	if err != nil {
		return nil, err
	}
	var results []wire.EntityResult
	for _, typ := range wire.SortedTypes(lists) {
		for _, e := range lists[typ] {
			results = append(results, s.save(typ, e))
		}
	}
	return results, nil
}

func (s *Server) changes(req wire.ChangesRequest) (wire.ChangesResponse, error) {
	types := req.Types
	if len(types) == 0 {
		for t := range s.lists {
			types = append(types, t)
		}
		sort.Strings(types)
	}
	changed := map[string][]*entity.Entity{}
	deleted := map[string][]int64{}
	for _, typ := range types {
		for _, st := range s.lists[typ] {
			if st.version > req.Since {
				changed[typ] = append(changed[typ], st.e.Clone())
			}
		}
		for id, v := range s.tombs[typ] {
			if v > req.Since {
				deleted[typ] = append(deleted[typ], id)
			}
		}
		entity.SortByID(changed[typ])
		sort.Slice(deleted[typ], func(i, j int) bool { return deleted[typ][i] < deleted[typ][j] })
	}
	pkg, err := wire.ConvertToPolymorphicablePackage(changed)
	if err != nil {
		return wire.ChangesResponse{}, err
	}
	return wire.ChangesResponse{Changes: pkg, Deleted: deleted, Version: s.version}, nil
}

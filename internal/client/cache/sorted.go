// Package cache holds the two in-memory caches of the sync engine: the
// ID-sorted working set the facade serves reads from, and the TTL cache that
// shields the remote from repeated list fetches.
package cache

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
)

// SortedEntityCache keeps one ID-ascending slice per entity type. No two
// entities in a slice share an ID.
//
// Thread-safety: all methods are safe for concurrent use. Entities handed in
// are owned by the cache afterwards; entities handed out are copies.
type SortedEntityCache struct {
	mu    sync.RWMutex
	lists map[string][]*entity.Entity
}

func NewSortedEntityCache() *SortedEntityCache {
	return &SortedEntityCache{lists: make(map[string][]*entity.Entity)}
}

// Get returns a copy of the type's list, sorted by ID, and whether the type
// is loaded at all.
func (c *SortedEntityCache) Get(typ string) ([]*entity.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list, ok := c.lists[typ]
	if !ok {
		return nil, false
	}
	return entity.CloneList(list), true
}

// GetEntity finds one entity by binary search.
func (c *SortedEntityCache) GetEntity(typ string, id int64) (*entity.Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.lists[typ]
	i, found := search(list, id)
	if !found {
		return nil, fmt.Errorf("%s/%d: %w", typ, id, common.ErrNotFound)
	}
	return list[i].Clone(), nil
}

// Has reports whether typ has been loaded.
func (c *SortedEntityCache) Has(typ string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.lists[typ]
	return ok
}

// Types returns the loaded types.
func (c *SortedEntityCache) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.lists))
	for t := range c.lists {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Extend replaces whole type lists with the ones in other. Types absent from
// other are left alone.
func (c *SortedEntityCache) Extend(other map[string][]*entity.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for typ, list := range other {
		c.lists[typ] = normalize(list)
	}
}

// Merge inserts or replaces each entity of list by ID, keeping order.
func (c *SortedEntityCache) Merge(typ string, list []*entity.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.lists[typ]
	if !ok {
		cur = []*entity.Entity{}
	}
	for _, e := range list {
		cur = insert(cur, e)
	}
	c.lists[typ] = cur
}

// Put inserts or replaces one entity. The type is loaded if it was not.
func (c *SortedEntityCache) Put(e *entity.Entity) {
	c.Merge(e.Type, []*entity.Entity{e})
}

// Remove drops the entities with the given IDs. Missing IDs are ignored.
func (c *SortedEntityCache) Remove(typ string, ids ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.lists[typ]
	for _, id := range ids {
		if i, found := search(list, id); found {
			list = slices.Delete(list, i, i+1)
		}
	}
	if _, ok := c.lists[typ]; ok {
		c.lists[typ] = list
	}
}

// ReplaceID re-keys an entity, typically a temporary negative ID replaced by
// the server-assigned one. It reports whether oldID was present.
func (c *SortedEntityCache) ReplaceID(typ string, oldID, newID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.lists[typ]
	i, found := search(list, oldID)
	if !found {
		return false
	}
	e := list[i]
	list = slices.Delete(list, i, i+1)
	e.ID = newID
	c.lists[typ] = insert(list, e)
	return true
}

// Drop forgets a type entirely.
func (c *SortedEntityCache) Drop(typ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lists, typ)
}

// Clear forgets everything.
func (c *SortedEntityCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = make(map[string][]*entity.Entity)
}

func search(list []*entity.Entity, id int64) (int, bool) {
	return slices.BinarySearchFunc(list, id, func(e *entity.Entity, id int64) int {
		switch {
		case e.ID < id:
			return -1
		case e.ID > id:
			return 1
		}
		return 0
	})
}

func insert(list []*entity.Entity, e *entity.Entity) []*entity.Entity {
	i, found := search(list, e.ID)
	if found {
		list[i] = e
		return list
	}
	return slices.Insert(list, i, e)
}

// normalize sorts a copy of list and collapses duplicate IDs, last one wins.
func normalize(list []*entity.Entity) []*entity.Entity {
	out := make([]*entity.Entity, 0, len(list))
	for _, e := range list {
		out = insert(out, e)
	}
	return out
}

// Package entity defines the record synchronized between the local store and
// the remote: a numeric ID, a type discriminator and an open set of typed
// fields, plus the JSON codec every string-based backend and the wire share.
package entity

import (
	"encoding/json"
	"fmt"
	"slices"
)

// IDField is the JSON key holding the entity ID.
const IDField = "ID"

// Entity is one record. ID <= 0 means the entity was created locally and has
// not been assigned a server ID yet.
type Entity struct {
	ID     int64
	Type   string
	Fields map[string]Value
}

// New returns an entity of type typ with the given fields.
func New(typ string, id int64, fields map[string]Value) *Entity {
	if fields == nil {
		fields = map[string]Value{}
	}
	return &Entity{ID: id, Type: typ, Fields: fields}
}

// IsLocal reports whether the entity still carries a temporary ID.
func (e *Entity) IsLocal() bool { return e.ID <= 0 }

// Get returns the field value or Null when absent.
func (e *Entity) Get(field string) Value {
	if field == IDField {
		return Int(e.ID)
	}
	if v, ok := e.Fields[field]; ok && v != nil {
		return v
	}
	return Null{}
}

// Set assigns a field value. Setting IDField changes the ID.
func (e *Entity) Set(field string, v Value) {
	if field == IDField {
		if id, ok := v.(Int); ok {
			e.ID = int64(id)
		}
		return
	}
	if e.Fields == nil {
		e.Fields = map[string]Value{}
	}
	e.Fields[field] = v
}

// Clone returns a deep copy.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := &Entity{ID: e.ID, Type: e.Type, Fields: make(map[string]Value, len(e.Fields))}
	for k, v := range e.Fields {
		out.Fields[k] = CloneValue(v)
	}
	return out
}

// MarshalJSON writes a flat object: the fields plus "ID". Type is not part
// of the encoding; it is carried by whatever list the entity belongs to.
func (e *Entity) MarshalJSON() ([]byte, error) {
	obj := make(map[string]Value, len(e.Fields)+1)
	for k, v := range e.Fields {
		if v == nil {
			v = Null{}
		}
		obj[k] = v
	}
	obj[IDField] = Int(e.ID)
	return json.Marshal(obj)
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	v, err := DecodeValue(data)
	if err != nil {
		return err
	}
	obj, ok := v.(Object)
	if !ok {
		return fmt.Errorf("entity: expected object, got %T", v)
	}
	id, err := idFromValue(obj[IDField])
	if err != nil {
		return err
	}
	delete(obj, IDField)
	e.ID = id
	e.Fields = map[string]Value(obj)
	return nil
}

func idFromValue(v Value) (int64, error) {
	switch x := v.(type) {
	case nil, Null:
		return 0, nil
	case Int:
		return int64(x), nil
	case Float:
		if float64(x) != float64(int64(x)) {
			return 0, fmt.Errorf("entity: non-integral ID %v", float64(x))
		}
		return int64(x), nil
	default:
		return 0, fmt.Errorf("entity: unsupported ID type %T", v)
	}
}

// EncodeList serializes a list as a JSON array.
func EncodeList(list []*Entity) ([]byte, error) {
	if list == nil {
		list = []*Entity{}
	}
	return json.Marshal(list)
}

// DecodeList parses a JSON array produced by EncodeList, stamping every
// entity with typ. Empty input yields an empty list.
func DecodeList(typ string, data []byte) ([]*Entity, error) {
	if len(data) == 0 {
		return []*Entity{}, nil
	}
	var list []*Entity
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", typ, err)
	}
	for _, e := range list {
		e.Type = typ
	}
	if list == nil {
		list = []*Entity{}
	}
	return list, nil
}

// CloneList deep-copies every entity.
func CloneList(list []*Entity) []*Entity {
	out := make([]*Entity, len(list))
	for i, e := range list {
		out[i] = e.Clone()
	}
	return out
}

// SortByID sorts list ascending by ID in place.
func SortByID(list []*Entity) {
	slices.SortFunc(list, func(a, b *Entity) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// Upsert merges items into list: an item whose ID is already present
// replaces it in place, others are appended in order. list is modified and
// returned.
func Upsert(list []*Entity, items ...*Entity) []*Entity {
	pos := make(map[int64]int, len(list))
	for i, e := range list {
		pos[e.ID] = i
	}
	for _, it := range items {
		if i, ok := pos[it.ID]; ok {
			list[i] = it
			continue
		}
		pos[it.ID] = len(list)
		list = append(list, it)
	}
	return list
}

// RemoveIDs returns list without the entities whose IDs are in ids.
func RemoveIDs(list []*Entity, ids ...int64) []*Entity {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	return slices.DeleteFunc(list, func(e *Entity) bool {
		_, ok := drop[e.ID]
		return ok
	})
}

// Find returns the first entity with the given ID.
func Find(list []*Entity, id int64) (*Entity, bool) {
	for _, e := range list {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

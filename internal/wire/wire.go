// Package wire defines the sync protocol shared by the client transport and
// the reference server: action names, request and response bodies, and the
// per-type "polymorphic package" encoding of entity batches.
//
// Every body is JSON. Over gRPC it travels inside a
// google.protobuf.BytesValue so the stock proto codec can carry it.
package wire

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/gophsync/internal/entity"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the gRPC service every action is registered under.
const ServiceName = "gophsync.v1.Sync"

// Actions.
const (
	ActionSaveEntity      = "SaveEntity"
	ActionSaveEntities    = "SaveEntities"
	ActionDeleteEntity    = "DeleteEntity"
	ActionDeleteEntities  = "DeleteEntities"
	ActionUpdateServer    = "UpdateServer"
	ActionGetChangesSince = "GetChangesSince"
	ActionGetList         = "GetList"
	ActionRegister        = "Register"
	ActionLogin           = "Login"
	ActionRefreshToken    = "RefreshToken"
	ActionPing            = "Ping"
)

// Actions lists every action in registration order.
var Actions = []string{
	ActionSaveEntity, ActionSaveEntities, ActionDeleteEntity, ActionDeleteEntities,
	ActionUpdateServer, ActionGetChangesSince, ActionGetList,
	ActionRegister, ActionLogin, ActionRefreshToken, ActionPing,
}

// PublicActions do not require an access token.
var PublicActions = map[string]bool{
	ActionRegister:     true,
	ActionLogin:        true,
	ActionRefreshToken: true,
	ActionPing:         true,
}

// FullMethod returns the gRPC method path of action.
func FullMethod(action string) string {
	return "/" + ServiceName + "/" + action
}

type SaveEntityRequest struct {
	Type   string         `json:"type"`
	Entity *entity.Entity `json:"entity"`
}

// EntityResult is the server's verdict on one entity. ClientID echoes the ID
// the client sent, which is negative for entities created offline.
type EntityResult struct {
	Type     string   `json:"Type,omitempty"`
	ClientID int64    `json:"ClientID"`
	ID       int64    `json:"ID"`
	Errors   []string `json:"Errors,omitempty"`
}

// OK reports whether the server accepted the entity.
func (r EntityResult) OK() bool { return len(r.Errors) == 0 }

type SaveEntitiesRequest struct {
	Data map[string]string `json:"data"`
}

type DeleteEntityRequest struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

type DeleteEntitiesRequest struct {
	Type string  `json:"type"`
	IDs  []int64 `json:"ids"`
}

type ResultsResponse struct {
	Results []EntityResult `json:"results"`
	Version int64          `json:"version"`
}

type UpdateServerRequest struct {
	ToSave   map[string]string  `json:"tosave"`
	ToDelete map[string][]int64 `json:"todelete"`
}

type ChangesRequest struct {
	Since int64    `json:"since"`
	Types []string `json:"types"`
}

// ChangesResponse carries everything modified after ChangesRequest.Since.
// Version is the watermark the client should send next time.
type ChangesResponse struct {
	Changes map[string]string  `json:"changes"`
	Deleted map[string][]int64 `json:"deleted"`
	Version int64              `json:"version"`
}

type ListRequest struct {
	Type string `json:"type"`
}

type ListResponse struct {
	Type    string `json:"type"`
	Data    string `json:"data"`
	Version int64  `json:"version"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type Empty struct{}

type PingResponse struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

// ChangeNotice is pushed over the notification socket after a write.
type ChangeNotice struct {
	Version int64    `json:"version"`
	Types   []string `json:"types,omitempty"`
}

// ConvertToPolymorphicablePackage serializes each type's entities on its own
// into a wire-safe string, keyed by type.
func ConvertToPolymorphicablePackage(byType map[string][]*entity.Entity) (map[string]string, error) {
	out := make(map[string]string, len(byType))
	for typ, list := range byType {
		data, err := entity.EncodeList(list)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", typ, err)
		}
		out[typ] = string(data)
	}
	return out, nil
}

// ParsePolymorphicablePackage is the inverse of ConvertToPolymorphicablePackage.
func ParsePolymorphicablePackage(pkg map[string]string) (map[string][]*entity.Entity, error) {
	out := make(map[string][]*entity.Entity, len(pkg))
	for typ, data := range pkg {
		list, err := entity.DecodeList(typ, []byte(data))
		if err != nil {
			return nil, err
		}
		out[typ] = list
	}
	return out, nil
}

// SortedTypes returns the keys of m in lexical order.
func SortedTypes[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pack wraps a JSON body for transport.
func Pack(v any) (*wrapperspb.BytesValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return wrapperspb.Bytes(data), nil
}

// Unpack decodes a transported JSON body into v.
func Unpack(b *wrapperspb.BytesValue, v any) error {
	if b == nil || len(b.GetValue()) == 0 {
		return nil
	}
	if err := json.Unmarshal(b.GetValue(), v); err != nil {
		return fmt.Errorf("unmarshal body: %w", err)
	}
	return nil
}

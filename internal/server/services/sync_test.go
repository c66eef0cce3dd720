package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/server/config"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophsync/internal/wire"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []wire.ChangeNotice
}

func (n *recordingNotifier) Notify(_ string, c wire.ChangeNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, c)
}

func openStore(t *testing.T) (*sql.DB, repomanager.RepositoryManager, string) {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, m, err := repomanager.Open(ctx, fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	u, err := m.Users(db).Create(ctx, &models.User{UserName: "alice", Salt: []byte("s"), Verifier: []byte("v")})
	require.NoError(t, err)
	return db, m, u.ID
}

func newSyncService(t *testing.T, types []string, opts ...SyncOption) (*SyncService, string) {
	t.Helper()
	db, m, uid := openStore(t)
	return NewSyncService(db, m, &config.Config{Types: types}, opts...), uid
}

func note(id int64, text string) *entity.Entity {
	return entity.New("notes", id, map[string]entity.Value{"text": entity.String(text)})
}

func TestSync_SaveAssignsIDsAndVersion(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	s, uid := newSyncService(t, nil, WithNotifier(n))

	results, version, err := s.UpdateServer(ctx, uid, map[string][]*entity.Entity{
		"notes": {note(-1, "a"), note(-2, "b")},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	require.Len(t, results, 2)
	assert.Equal(t, wire.EntityResult{Type: "notes", ClientID: -1, ID: 1}, results[0])
	assert.Equal(t, wire.EntityResult{Type: "notes", ClientID: -2, ID: 2}, results[1])

	list, v, err := s.GetList(ctx, uid, "notes")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	want := []*entity.Entity{note(1, "a"), note(2, "b")}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, n.notices, 1)
	assert.Equal(t, wire.ChangeNotice{Version: 1, Types: []string{"notes"}}, n.notices[0])
}

func TestSync_UpdateKnownAndRejectUnknown(t *testing.T) {
	ctx := context.Background()
	s, uid := newSyncService(t, nil)

	res, _, err := s.SaveEntity(ctx, uid, "notes", note(-1, "a"))
	require.NoError(t, err)
	require.True(t, res.OK())

	res, version, err := s.SaveEntity(ctx, uid, "notes", note(res.ID, "a2"))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, int64(2), version)

	res, version, err = s.SaveEntity(ctx, uid, "notes", note(77, "ghost"))
	require.NoError(t, err)
	assert.Equal(t, []string{MsgUnknownID}, res.Errors)
	assert.Equal(t, int64(2), version, "a fully rejected request does not bump the version")

	list, _, err := s.GetList(ctx, uid, "notes")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, entity.String("a2"), list[0].Get("text"))
}

func TestSync_TypeChecks(t *testing.T) {
	ctx := context.Background()
	s, uid := newSyncService(t, []string{"notes"}, WithValidator(func(_ string, e *entity.Entity) []string {
		if _, ok := e.Fields["text"]; !ok {
			return []string{"text is required"}
		}
		return nil
	}))

	results, version, err := s.UpdateServer(ctx, uid, map[string][]*entity.Entity{
		"__meta__": {entity.New("__meta__", -1, nil)},
		"tasks":    {entity.New("tasks", -1, nil)},
		"notes":    {entity.New("notes", -1, nil), note(-2, "ok")},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	byType := map[string][]wire.EntityResult{}
	for _, r := range results {
		byType[r.Type] = append(byType[r.Type], r)
	}
	assert.Equal(t, []string{MsgReservedType}, byType["__meta__"][0].Errors)
	assert.Equal(t, []string{MsgUnknownType}, byType["tasks"][0].Errors)
	assert.Equal(t, []string{"text is required"}, byType["notes"][0].Errors)
	assert.True(t, byType["notes"][1].OK())
}

func TestSync_DeleteAndChanges(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	s, uid := newSyncService(t, nil, WithNotifier(n))

	results, _, err := s.UpdateServer(ctx, uid, map[string][]*entity.Entity{
		"notes": {note(-1, "a"), note(-2, "b")},
		"tasks": {entity.New("tasks", -1, map[string]entity.Value{"done": entity.Bool(false)})},
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	results, version, err := s.DeleteEntities(ctx, uid, "notes", []int64{1, 999, -5})
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.True(t, results[1].OK(), "deleting an absent id is idempotent")
	assert.Equal(t, []string{MsgLocalID}, results[2].Errors)

	changes, deleted, v, err := s.GetChangesSince(ctx, uid, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Empty(t, changes)
	assert.Equal(t, map[string][]int64{"notes": {1}}, deleted)

	changes, deleted, _, err = s.GetChangesSince(ctx, uid, 0, []string{"tasks"})
	require.NoError(t, err)
	assert.Empty(t, deleted)
	require.Len(t, changes["tasks"], 1)
	assert.Equal(t, int64(3), changes["tasks"][0].ID)

	res, _, err := s.SaveEntity(ctx, uid, "notes", note(1, "again"))
	require.NoError(t, err)
	assert.Equal(t, []string{MsgDeleted}, res.Errors)

	list, _, err := s.GetList(ctx, uid, "notes")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].ID)

	require.Len(t, n.notices, 2)
	assert.Equal(t, []string{"notes"}, n.notices[1].Types)
}

func TestSync_SaveEntityNil(t *testing.T) {
	s, uid := newSyncService(t, nil)
	_, _, err := s.SaveEntity(context.Background(), uid, "notes", nil)
	assert.Error(t, err)
}

func TestSync_Version(t *testing.T) {
	ctx := context.Background()
	s, uid := newSyncService(t, nil)

	v, err := s.Version(ctx, uid)
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = s.Version(ctx, "nobody")
	assert.Error(t, err)
}

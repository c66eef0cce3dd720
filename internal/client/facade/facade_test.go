package facade

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dmitrijs2005/gophsync/internal/client/query"
	"github.com/dmitrijs2005/gophsync/internal/client/remote"
	"github.com/dmitrijs2005/gophsync/internal/client/remote/remotetest"
	"github.com/dmitrijs2005/gophsync/internal/client/repository"
	"github.com/dmitrijs2005/gophsync/internal/client/repository/memory"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var types = []string{"Contact", "Task"}

func contact(id int64, name string) *entity.Entity {
	return entity.New("Contact", id, map[string]entity.Value{"Name": entity.String(name)})
}

func newRepo(t *testing.T) repository.Repository {
	t.Helper()
	repo := memory.New(nil)
	require.NoError(t, repo.Init(context.Background(), types))
	return repo
}

func setup(t *testing.T, opts ...remote.Option) (*Facade, *remotetest.Server, repository.Repository) {
	t.Helper()
	srv := remotetest.NewServer()
	repo := newRepo(t)
	f, err := New(context.Background(), repo, remote.New(srv, opts...), types)
	require.NoError(t, err)
	return f, srv, repo
}

func names(list []*entity.Entity) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		s, _ := e.Get("Name").(entity.String)
		out = append(out, string(s))
	}
	return out
}

func assertNothingPending(t *testing.T, f *Facade) {
	t.Helper()
	saves, dels, err := f.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, saves)
	assert.Empty(t, dels)
}

type failingRemote struct {
	*remote.Provider
	err error
}

func (r failingRemote) DeleteEntity(context.Context, string, int64) (*remote.Result, error) {
	return nil, r.err
}

type hookRemote struct {
	*remote.Provider
	beforeUpdate func()
}

func (h *hookRemote) UpdateServer(ctx context.Context, s map[string][]*entity.Entity, d map[string][]int64) (*remote.Result, error) {
	if h.beforeUpdate != nil {
		fn := h.beforeUpdate
		h.beforeUpdate = nil
		fn()
	}
	return h.Provider.UpdateServer(ctx, s, d)
}

func TestNewRejectsReservedTypes(t *testing.T) {
	_, err := New(context.Background(), newRepo(t), remote.New(remotetest.NewServer()), []string{"__unsaved__Contact"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestCreateOnlineRewritesTemporaryID(t *testing.T) {
	f, srv, repo := setup(t)
	ctx := context.Background()

	got, err := f.Create(ctx, contact(0, "Anna"))
	require.NoError(t, err)
	assert.Greater(t, got.ID, int64(0))

	server := srv.Entities("Contact")
	require.Len(t, server, 1)
	assert.Equal(t, got.ID, server[0].ID)

	list, err := f.List(ctx, "Contact")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, got.ID, list[0].ID)

	_, err = repo.GetItem(ctx, "Contact", got.ID)
	require.NoError(t, err)
	_, err = repo.GetItem(ctx, "Contact", -1)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assertNothingPending(t, f)
}

func TestCreateOfflineThenSync(t *testing.T) {
	f, srv, _ := setup(t)
	ctx := context.Background()

	srv.SetOffline(true)
	got, err := f.Create(ctx, contact(0, "Anna"))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), got.ID)

	saves, _, err := f.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, saves["Contact"], 1)
	assert.Equal(t, int64(-1), saves["Contact"][0].ID)

	report, err := f.Sync(ctx)
	assert.ErrorIs(t, err, common.ErrOffline)
	assert.True(t, report.Offline)

	srv.SetOffline(false)
	report, err = f.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)
	assert.Equal(t, srv.Version(), f.Watermark())

	list, err := f.List(ctx, "Contact")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, srv.Entities("Contact")[0].ID, list[0].ID)
	assertNothingPending(t, f)
}

func TestUnknownTypeIsValidationError(t *testing.T) {
	f, _, _ := setup(t)
	_, err := f.Create(context.Background(), entity.New("Invoice", 0, nil))
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = f.List(context.Background(), "Invoice")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestUpdateWithoutIDIsValidationError(t *testing.T) {
	f, _, _ := setup(t)
	_, err := f.Update(context.Background(), contact(0, "x"))
	assert.ErrorIs(t, err, common.ErrValidation)
}

func rejectEmptyNames(typ string, e *entity.Entity) []string {
	if e.Get("Name") == entity.String("") {
		return []string{"Name is required"}
	}
	return nil
}

func TestCreateRejectedIsRolledBack(t *testing.T) {
	f, srv, repo := setup(t)
	srv.Reject = rejectEmptyNames
	ctx := context.Background()

	_, err := f.Create(ctx, contact(0, ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrSyncConflict)

	list, err := f.List(ctx, "Contact")
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = repo.GetItem(ctx, "Contact", -1)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assertNothingPending(t, f)
}

func TestUpdateRejectedRestoresPreviousState(t *testing.T) {
	f, srv, _ := setup(t)
	ctx := context.Background()

	created, err := f.Create(ctx, contact(0, "Anna"))
	require.NoError(t, err)

	// a queued offline edit must survive the rollback of a later one
	srv.SetOffline(true)
	_, err = f.Update(ctx, contact(created.ID, "Anna B"))
	require.NoError(t, err)
	srv.SetOffline(false)

	srv.Reject = rejectEmptyNames
	_, err = f.Update(ctx, contact(created.ID, ""))
	assert.ErrorIs(t, err, common.ErrSyncConflict)

	got, err := f.Get(ctx, "Contact", created.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.String("Anna B"), got.Get("Name"))

	saves, _, err := f.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, saves["Contact"], 1)
	assert.Equal(t, entity.String("Anna B"), saves["Contact"][0].Get("Name"))
}

func TestDeleteFailureIsRolledBack(t *testing.T) {
	srv := remotetest.NewServer()
	repo := newRepo(t)
	boom := errors.New("boom")
	prov := remote.New(srv)
	f, err := New(context.Background(), repo, failingRemote{Provider: prov, err: boom}, types)
	require.NoError(t, err)
	ctx := context.Background()

	created, err := f.Create(ctx, contact(0, "Anna"))
	require.NoError(t, err)

	err = f.Delete(ctx, "Contact", created.ID)
	assert.ErrorIs(t, err, boom)

	got, err := f.Get(ctx, "Contact", created.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.String("Anna"), got.Get("Name"))
	assertNothingPending(t, f)
}

func TestDeleteOfflineThenSync(t *testing.T) {
	f, srv, _ := setup(t)
	ctx := context.Background()

	created, err := f.Create(ctx, contact(0, "Anna"))
	require.NoError(t, err)

	srv.SetOffline(true)
	require.NoError(t, f.Delete(ctx, "Contact", created.ID))
	_, dels, err := f.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{"Contact": {created.ID}}, dels)

	_, err = f.Get(ctx, "Contact", created.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	srv.SetOffline(false)
	_, err = f.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, srv.Entities("Contact"))
	assertNothingPending(t, f)
}

func TestDeleteLocalOnlyEntityNeverCallsServer(t *testing.T) {
	f, srv, _ := setup(t)
	ctx := context.Background()

	srv.SetOffline(true)
	created, err := f.Create(ctx, contact(0, "Draft"))
	require.NoError(t, err)
	srv.SetOffline(false)

	require.NoError(t, f.Delete(ctx, "Contact", created.ID))
	assertNothingPending(t, f)
	assert.NotContains(t, srv.Calls(), "DeleteEntity")
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	f, _, _ := setup(t)
	err := f.Delete(context.Background(), "Contact", 42)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSyncMergesSkipsPendingAndAppliesTombstones(t *testing.T) {
	veto := remote.WithPreSave(func(_ string, e *entity.Entity) bool {
		return e.Get("Name") != entity.String("C local")
	})
	f, srv, repo := setup(t, veto)
	ctx := context.Background()

	ids := srv.Seed("Contact", contact(0, "A"), contact(0, "B"), contact(0, "C"))
	_, err := f.Sync(ctx)
	require.NoError(t, err)
	list, err := f.List(ctx, "Contact")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, names(list))

	srv.Seed("Contact", contact(ids[0], "A server"), contact(ids[2], "C server"))
	srv.Remove("Contact", ids[1])
	_, err = f.Update(ctx, contact(ids[2], "C local"))
	require.NoError(t, err)

	report, err := f.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, srv.Version(), report.Watermark)

	list, err = f.List(ctx, "Contact")
	require.NoError(t, err)
	assert.Equal(t, []string{"A server", "C local"}, names(list))

	// state survives a restart
	again, err := New(ctx, repo, remote.New(srv), types)
	require.NoError(t, err)
	assert.Equal(t, f.Watermark(), again.Watermark())
	list, err = again.List(ctx, "Contact")
	require.NoError(t, err)
	assert.Equal(t, []string{"A server", "C local"}, names(list))
	saves, _, err := again.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, saves["Contact"], 1)
}

func TestRejectedPushRevertsToServerCopy(t *testing.T) {
	f, srv, _ := setup(t)
	ctx := context.Background()

	created, err := f.Create(ctx, contact(0, "Anna"))
	require.NoError(t, err)

	srv.SetOffline(true)
	_, err = f.Update(ctx, contact(created.ID, ""))
	require.NoError(t, err)
	_, err = f.Create(ctx, contact(0, ""))
	require.NoError(t, err)
	srv.SetOffline(false)

	srv.Reject = rejectEmptyNames
	report, err := f.Sync(ctx)
	assert.ErrorIs(t, err, common.ErrSyncConflict)
	assert.Equal(t, 2, report.Rejected)

	list, err := f.List(ctx, "Contact")
	require.NoError(t, err)
	assert.Equal(t, []string{"Anna"}, names(list))
	assertNothingPending(t, f)
}

func TestEditDuringPushStaysPending(t *testing.T) {
	srv := remotetest.NewServer()
	repo := newRepo(t)
	hr := &hookRemote{Provider: remote.New(srv)}
	f, err := New(context.Background(), repo, hr, types)
	require.NoError(t, err)
	ctx := context.Background()

	srv.SetOffline(true)
	_, err = f.Create(ctx, contact(0, "A"))
	require.NoError(t, err)
	srv.SetOffline(false)

	hr.beforeUpdate = func() {
		srv.SetOffline(true)
		_, err := f.Update(ctx, contact(-1, "A2"))
		require.NoError(t, err)
		srv.SetOffline(false)
	}
	_, err = f.Sync(ctx)
	require.NoError(t, err)

	list, err := f.List(ctx, "Contact")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Greater(t, list[0].ID, int64(0))
	assert.Equal(t, []string{"A2"}, names(list))

	saves, _, err := f.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, saves["Contact"], 1)
	assert.Equal(t, list[0].ID, saves["Contact"][0].ID)

	_, err = f.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A2"}, names(srv.Entities("Contact")))
	assertNothingPending(t, f)
}

func TestTemporaryIDsAreNotReusedAfterRestart(t *testing.T) {
	f, srv, repo := setup(t)
	ctx := context.Background()
	srv.SetOffline(true)

	a, err := f.Create(ctx, contact(0, "A"))
	require.NoError(t, err)
	b, err := f.Create(ctx, contact(0, "B"))
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, -2}, []int64{a.ID, b.ID})

	again, err := New(ctx, repo, remote.New(srv), types)
	require.NoError(t, err)
	c, err := again.Create(ctx, contact(0, "C"))
	require.NoError(t, err)
	assert.Equal(t, int64(-3), c.ID)
}

func TestQuery(t *testing.T) {
	f, srv, _ := setup(t)
	ctx := context.Background()
	srv.Seed("Contact", contact(0, "Anna"), contact(0, "Bruno"), contact(0, "Annabel"))
	_, err := f.Sync(ctx)
	require.NoError(t, err)

	got, err := f.Query(ctx, "Contact", query.FromValues(map[string]entity.Value{"Name": entity.String("anna")}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Anna", "Annabel"}, names(got))
}

func TestVetoedSaveStaysPending(t *testing.T) {
	veto := remote.WithPreSave(func(string, *entity.Entity) bool { return false })
	f, srv, _ := setup(t, veto)
	ctx := context.Background()

	got, err := f.Create(ctx, contact(0, "Anna"))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), got.ID)
	assert.Empty(t, srv.Calls())

	saves, _, err := f.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, saves["Contact"], 1)
}

func TestConcurrentUpdatesOfOneEntity(t *testing.T) {
	f, srv, _ := setup(t)
	ctx := context.Background()
	created, err := f.Create(ctx, contact(0, "v0"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Update(ctx, contact(created.ID, "v"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, f.locks.size())
	assertNothingPending(t, f)
	assert.Equal(t, []string{"v"}, names(srv.Entities("Contact")))
}

func TestAsyncWrappers(t *testing.T) {
	f, _, _ := setup(t)
	ctx := context.Background()

	created, err := f.CreateAsync(ctx, contact(0, "Anna")).Wait(ctx)
	require.NoError(t, err)
	assert.Greater(t, created.ID, int64(0))

	created.Set("Name", entity.String("Anna B"))
	updated, err := f.UpdateAsync(ctx, created).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.String("Anna B"), updated.Get("Name"))

	report, err := f.SyncAsync(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.False(t, report.Offline)

	_, err = f.DeleteAsync(ctx, "Contact", created.ID).Wait(ctx)
	require.NoError(t, err)
	list, err := f.List(ctx, "Contact")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClearLocal(t *testing.T) {
	f, srv, _ := setup(t)
	ctx := context.Background()
	srv.Seed("Contact", contact(0, "A"))
	_, err := f.Sync(ctx)
	require.NoError(t, err)
	require.NotZero(t, f.Watermark())

	require.NoError(t, f.ClearLocal(ctx))
	assert.Zero(t, f.Watermark())
	list, err := f.List(ctx, "Contact")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.Sync(ctx)
	require.NoError(t, err)
	list, err = f.List(ctx, "Contact")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

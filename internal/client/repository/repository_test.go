package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/gophsync/internal/client/repository"
	"github.com/dmitrijs2005/gophsync/internal/client/repository/memory"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// candidate is a Repository whose support can be toggled.
type candidate struct {
	*memory.Repository
	name      string
	supported bool
	closed    bool
	initErr   error
}

func newCandidate(name string, supported bool) *candidate {
	return &candidate{Repository: memory.New(nil), name: name, supported: supported}
}

func (p *candidate) Name() string                         { return p.name }
func (p *candidate) IsSupported(ctx context.Context) bool { return p.supported }
func (p *candidate) Close() error                         { p.closed = true; return nil }
func (p *candidate) Init(ctx context.Context, types []string) error {
	if p.initErr != nil {
		return p.initErr
	}
	return p.Repository.Init(ctx, types)
}

func TestOpen_PicksFirstSupported(t *testing.T) {
	a, b, c := newCandidate("sqlite", false), newCandidate("bolt", true), newCandidate("memory", true)

	r, err := repository.Open(context.Background(), logging.Nop(), []string{"Task"}, a, b, c)
	require.NoError(t, err)

	assert.Equal(t, "bolt", r.Name())
	assert.True(t, a.closed)
	assert.False(t, b.closed)
	assert.True(t, c.closed)
}

func TestOpen_NoneSupported(t *testing.T) {
	_, err := repository.Open(context.Background(), logging.Nop(), nil, newCandidate("x", false))
	assert.ErrorIs(t, err, repository.ErrNoBackend)
}

func TestOpen_InitFailure(t *testing.T) {
	p := newCandidate("bolt", true)
	p.initErr = errors.New("locked")

	_, err := repository.Open(context.Background(), logging.Nop(), nil, p)
	assert.ErrorContains(t, err, "init bolt backend")
	assert.True(t, p.closed)
}

func TestLedger_CorruptDeletedList(t *testing.T) {
	ctx := context.Background()
	r := memory.New(nil)
	require.NoError(t, r.SaveItem(ctx, repository.DeletedPrefix+"Task", entity.New("", -5, nil)))

	_, err := repository.NewLedger(r).GetDeletedLists(ctx)
	assert.ErrorIs(t, err, common.ErrLedgerCorrupt)
}

func TestLedger_AddDeletedRejectsTemporaryIDs(t *testing.T) {
	err := repository.NewLedger(memory.New(nil)).AddDeleted(context.Background(), "Task", -1)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestLedger_RekeyAndIsPending(t *testing.T) {
	ctx := context.Background()
	r := memory.New(nil)
	l := repository.NewLedger(r)

	require.NoError(t, l.AddUnsaved(ctx, "Task", entity.New("Task", -3, map[string]entity.Value{"T": entity.String("x")})))
	pending, err := l.IsPending(ctx, "Task", -3)
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, l.Rekey(ctx, "Task", -3, 30))
	require.NoError(t, l.Rekey(ctx, "Task", -99, 31))

	saves, err := l.GetUnsavedLists(ctx)
	require.NoError(t, err)
	require.Len(t, saves["Task"], 1)
	assert.Equal(t, int64(30), saves["Task"][0].ID)
	assert.Equal(t, entity.String("x"), saves["Task"][0].Fields["T"])

	pending, err = l.IsPending(ctx, "Task", -3)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestFailer_WrapsAndReports(t *testing.T) {
	var (
		gotOp   string
		gotArgs []any
	)
	f := repository.Failer{Hook: func(op string, args []any, err error) { gotOp, gotArgs = op, args }}

	err := f.Fail("SaveList", errors.New("disk"), "Task", 3)
	assert.ErrorIs(t, err, common.ErrStorageTransaction)
	assert.Equal(t, "SaveList", gotOp)
	assert.Equal(t, []any{"Task", 3}, gotArgs)

	gotOp = ""
	nf := repository.NotFound("Task", 1)
	assert.Same(t, nf, f.Fail("GetItem", nf))
	assert.Empty(t, gotOp)
	assert.NoError(t, f.Fail("x", nil))
}

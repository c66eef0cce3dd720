// Package repotest is the conformance suite every repository backend runs.
package repotest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/client/repository"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, initialized backend. Cleanup is the factory's job.
type Factory func(t *testing.T) repository.Repository

func contact(id int64, name string) *entity.Entity {
	return entity.New("Contact", id, map[string]entity.Value{
		"Name": entity.String(name),
		"Seen": entity.NewDate(time.UnixMilli(1700000000000 + id)),
		"Tags": entity.Array{entity.String("x"), entity.Object{"At": entity.NewDate(time.UnixMilli(42))}},
	})
}

func sortedIDs(list []*entity.Entity) []int64 {
	out := make([]int64, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run exercises the whole Repository contract.
func Run(t *testing.T, newRepo Factory) {
	ctx := context.Background()

	t.Run("SaveListUpsertMerges", func(t *testing.T) {
		r := newRepo(t)
		require.NoError(t, r.SaveList(ctx, "Contact", []*entity.Entity{contact(1, "a"), contact(2, "b")}))
		require.NoError(t, r.SaveList(ctx, "Contact", []*entity.Entity{contact(2, "B"), contact(3, "c")}))

		list, err := r.GetList(ctx, "Contact")
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, sortedIDs(list))

		got, err := r.GetItem(ctx, "Contact", 2)
		require.NoError(t, err)
		assert.Equal(t, entity.String("B"), got.Fields["Name"])
		assert.Equal(t, "Contact", got.Type)
	})

	t.Run("SaveListIsIdempotent", func(t *testing.T) {
		r := newRepo(t)
		batch := []*entity.Entity{contact(1, "a"), contact(-4, "tmp")}
		require.NoError(t, r.SaveList(ctx, "Contact", batch))
		once, err := r.GetList(ctx, "Contact")
		require.NoError(t, err)

		require.NoError(t, r.SaveList(ctx, "Contact", batch))
		twice, err := r.GetList(ctx, "Contact")
		require.NoError(t, err)

		assert.Equal(t, sortedIDs(once), sortedIDs(twice))
	})

	t.Run("DatesRoundTrip", func(t *testing.T) {
		r := newRepo(t)
		in := contact(7, "d")
		require.NoError(t, r.SaveItem(ctx, "Contact", in))

		out, err := r.GetItem(ctx, "Contact", 7)
		require.NoError(t, err)
		for k, v := range in.Fields {
			assert.Truef(t, entity.Equal(v, out.Fields[k]), "field %s: %#v != %#v", k, v, out.Fields[k])
		}
		seen, ok := out.Fields["Seen"].(entity.Date)
		require.True(t, ok)
		assert.Equal(t, int64(1700000000007), seen.UnixMilli())
	})

	t.Run("GetItemMissing", func(t *testing.T) {
		r := newRepo(t)
		_, err := r.GetItem(ctx, "Contact", 99)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("SaveItemWithoutID", func(t *testing.T) {
		r := newRepo(t)
		err := r.SaveItem(ctx, "Contact", contact(0, "zero"))
		assert.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("GetListUnknownTypeIsEmpty", func(t *testing.T) {
		r := newRepo(t)
		list, err := r.GetList(ctx, "Nothing")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("DeleteItems", func(t *testing.T) {
		r := newRepo(t)
		require.NoError(t, r.SaveList(ctx, "Contact", []*entity.Entity{contact(1, "a"), contact(2, "b"), contact(3, "c")}))
		require.NoError(t, r.DeleteItem(ctx, "Contact", 1))
		require.NoError(t, r.DeleteItems(ctx, "Contact", []int64{3, 404}))

		list, err := r.GetList(ctx, "Contact")
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, sortedIDs(list))
	})

	t.Run("DeleteListAndClear", func(t *testing.T) {
		r := newRepo(t)
		require.NoError(t, r.SaveItem(ctx, "Contact", contact(1, "a")))
		require.NoError(t, r.SaveItem(ctx, "Task", entity.New("Task", 1, nil)))

		require.NoError(t, r.DeleteList(ctx, "Contact"))
		list, err := r.GetList(ctx, "Contact")
		require.NoError(t, err)
		assert.Empty(t, list)

		require.NoError(t, r.ClearEntireDatabase(ctx))
		list, err = r.GetList(ctx, "Task")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("GetListsByPrefix", func(t *testing.T) {
		r := newRepo(t)
		require.NoError(t, r.SaveItem(ctx, repository.UnsavedPrefix+"Contact", contact(-1, "x")))
		require.NoError(t, r.SaveItem(ctx, repository.UnsavedPrefix+"Task", entity.New("Task", 5, nil)))
		require.NoError(t, r.SaveItem(ctx, "Contact", contact(1, "a")))
		require.NoError(t, r.SaveItem(ctx, "__unsavedX", contact(1, "a")))

		lists, err := r.GetLists(ctx, repository.UnsavedPrefix)
		require.NoError(t, err)
		keys := make([]string, 0, len(lists))
		for k := range lists {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		assert.Equal(t, []string{repository.UnsavedPrefix + "Contact", repository.UnsavedPrefix + "Task"}, keys)
	})

	t.Run("LedgerSurvivesAndParses", func(t *testing.T) {
		r := newRepo(t)
		l := repository.NewLedger(r)

		require.NoError(t, l.AddUnsaved(ctx, "Contact", contact(-1, "new")))
		require.NoError(t, l.AddDeleted(ctx, "Contact", 8, 9))

		saves, err := l.GetUnsavedLists(ctx)
		require.NoError(t, err)
		require.Len(t, saves["Contact"], 1)
		assert.Equal(t, "Contact", saves["Contact"][0].Type)

		dels, err := l.GetDeletedLists(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{8, 9}, dels["Contact"])

		require.NoError(t, l.RemoveDeleted(ctx, "Contact", 8, 9))
		require.NoError(t, l.RemoveUnsaved(ctx, "Contact", -1))
		empty, err := l.Empty(ctx)
		require.NoError(t, err)
		assert.True(t, empty)
	})
}

package cache

import (
	"sync"
	"testing"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ent(id int64, name string) *entity.Entity {
	return entity.New("Contact", id, map[string]entity.Value{"Name": entity.String(name)})
}

func ids(list []*entity.Entity) []int64 {
	out := make([]int64, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}

func assertSortedUnique(t *testing.T, list []*entity.Entity) {
	t.Helper()
	for i := 1; i < len(list); i++ {
		require.Less(t, list[i-1].ID, list[i].ID, "list must be strictly ascending: %v", ids(list))
	}
}

func TestSortedEntityCache_ExtendSortsAndDedups(t *testing.T) {
	c := NewSortedEntityCache()
	c.Extend(map[string][]*entity.Entity{
		"Contact": {ent(5, "e"), ent(1, "a"), ent(3, "c"), ent(1, "a2")},
	})

	list, ok := c.Get("Contact")
	require.True(t, ok)
	assert.Equal(t, []int64{1, 3, 5}, ids(list))
	assert.Equal(t, entity.String("a2"), list[0].Fields["Name"])
}

func TestSortedEntityCache_MergeKeepsOrder(t *testing.T) {
	c := NewSortedEntityCache()
	c.Extend(map[string][]*entity.Entity{"Contact": {ent(2, "b"), ent(4, "d")}})

	c.Merge("Contact", []*entity.Entity{ent(3, "c"), ent(-1, "tmp"), ent(4, "D"), ent(10, "j")})

	list, _ := c.Get("Contact")
	assertSortedUnique(t, list)
	assert.Equal(t, []int64{-1, 2, 3, 4, 10}, ids(list))

	got, err := c.GetEntity("Contact", 4)
	require.NoError(t, err)
	assert.Equal(t, entity.String("D"), got.Fields["Name"])
}

func TestSortedEntityCache_GetEntityNotFound(t *testing.T) {
	c := NewSortedEntityCache()
	_, err := c.GetEntity("Contact", 1)
	assert.ErrorIs(t, err, common.ErrNotFound)

	c.Put(ent(1, "a"))
	_, err = c.GetEntity("Contact", 2)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSortedEntityCache_GetReturnsCopies(t *testing.T) {
	c := NewSortedEntityCache()
	c.Put(ent(1, "a"))

	list, _ := c.Get("Contact")
	list[0].Fields["Name"] = entity.String("mutated")

	got, err := c.GetEntity("Contact", 1)
	require.NoError(t, err)
	assert.Equal(t, entity.String("a"), got.Fields["Name"])
}

func TestSortedEntityCache_ReplaceIDAndRemove(t *testing.T) {
	c := NewSortedEntityCache()
	c.Merge("Contact", []*entity.Entity{ent(-2, "x"), ent(-1, "y"), ent(5, "z")})

	assert.True(t, c.ReplaceID("Contact", -2, 9))
	assert.False(t, c.ReplaceID("Contact", -7, 11))

	list, _ := c.Get("Contact")
	assert.Equal(t, []int64{-1, 5, 9}, ids(list))

	c.Remove("Contact", 5, 42)
	list, _ = c.Get("Contact")
	assert.Equal(t, []int64{-1, 9}, ids(list))
}

func TestSortedEntityCache_TypesAndDrop(t *testing.T) {
	c := NewSortedEntityCache()
	c.Extend(map[string][]*entity.Entity{"B": {}, "A": {}})
	assert.Equal(t, []string{"A", "B"}, c.Types())
	assert.True(t, c.Has("A"))

	c.Drop("A")
	assert.False(t, c.Has("A"))

	c.Clear()
	assert.Empty(t, c.Types())
}

func TestSortedEntityCache_ConcurrentMerge(t *testing.T) {
	c := NewSortedEntityCache()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c.Put(ent(int64(i*8+g), "n"))
			}
		}(g)
	}
	wg.Wait()

	list, _ := c.Get("Contact")
	assert.Len(t, list, 400)
	assertSortedUnique(t, list)
}

// Package bolt is the key-value repository backend. Each entity type is one
// key in a single bucket whose value is the JSON array of the type's
// entities; every write is a read-modify-write of that array inside one
// bolt transaction.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/client/repository"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/filex"
	"go.etcd.io/bbolt"
)

var bucketLists = []byte("lists")

type Repository struct {
	repository.Failer
	path string
	db   *bbolt.DB
}

func New(path string, hook repository.FailHook) *Repository {
	return &Repository{Failer: repository.Failer{Hook: hook}, path: path}
}

func (r *Repository) Name() string { return "bolt" }

// IsSupported checks that the database directory exists or can be created
// and is writable.
func (r *Repository) IsSupported(context.Context) bool {
	if r.path == "" {
		return false
	}
	dir, err := filex.EnsureDir(filepath.Dir(r.path), 0o755)
	if err != nil {
		return false
	}
	return filex.Writable(dir)
}

func (r *Repository) Init(_ context.Context, _ []string) error {
	if r.db != nil {
		return nil
	}
	db, err := bbolt.Open(r.path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return r.Fail("Init", fmt.Errorf("failed to open bolt db: %w", err), r.path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLists)
		return err
	})
	if err != nil {
		_ = db.Close()
		return r.Fail("Init", err, r.path)
	}
	r.db = db
	return nil
}

func readList(b *bbolt.Bucket, typ string) ([]*entity.Entity, error) {
	return entity.DecodeList(typ, b.Get([]byte(typ)))
}

func writeList(b *bbolt.Bucket, typ string, list []*entity.Entity) error {
	data, err := entity.EncodeList(list)
	if err != nil {
		return err
	}
	return b.Put([]byte(typ), data)
}

// update runs a read-modify-write of one type's list.
func (r *Repository) update(op, typ string, fn func([]*entity.Entity) ([]*entity.Entity, error)) error {
	if r.db == nil {
		return r.Fail(op, errNotInitialized, typ)
	}
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLists)
		list, err := readList(b, typ)
		if err != nil {
			return err
		}
		list, err = fn(list)
		if err != nil {
			return err
		}
		return writeList(b, typ, list)
	})
	return r.Fail(op, err, typ)
}

func (r *Repository) GetList(_ context.Context, typ string) ([]*entity.Entity, error) {
	if r.db == nil {
		return nil, r.Fail("GetList", errNotInitialized, typ)
	}
	var list []*entity.Entity
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		list, err = readList(tx.Bucket(bucketLists), typ)
		return err
	})
	if err != nil {
		return nil, r.Fail("GetList", err, typ)
	}
	return list, nil
}

func (r *Repository) SaveList(_ context.Context, typ string, items []*entity.Entity) error {
	if err := repository.ValidateType(typ); err != nil {
		return err
	}
	for _, it := range items {
		if err := repository.ValidateItem(typ, it); err != nil {
			return err
		}
	}
	return r.update("SaveList", typ, func(list []*entity.Entity) ([]*entity.Entity, error) {
		return entity.Upsert(list, items...), nil
	})
}

func (r *Repository) GetItem(ctx context.Context, typ string, id int64) (*entity.Entity, error) {
	list, err := r.GetList(ctx, typ)
	if err != nil {
		return nil, err
	}
	e, ok := entity.Find(list, id)
	if !ok {
		return nil, repository.NotFound(typ, id)
	}
	return e, nil
}

func (r *Repository) SaveItem(ctx context.Context, typ string, item *entity.Entity) error {
	return r.SaveList(ctx, typ, []*entity.Entity{item})
}

func (r *Repository) DeleteItem(ctx context.Context, typ string, id int64) error {
	return r.DeleteItems(ctx, typ, []int64{id})
}

func (r *Repository) DeleteItems(_ context.Context, typ string, ids []int64) error {
	return r.update("DeleteItems", typ, func(list []*entity.Entity) ([]*entity.Entity, error) {
		return entity.RemoveIDs(list, ids...), nil
	})
}

func (r *Repository) DeleteList(_ context.Context, typ string) error {
	if r.db == nil {
		return r.Fail("DeleteList", errNotInitialized, typ)
	}
	err := r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLists).Delete([]byte(typ))
	})
	return r.Fail("DeleteList", err, typ)
}

func (r *Repository) ClearEntireDatabase(context.Context) error {
	if r.db == nil {
		return r.Fail("ClearEntireDatabase", errNotInitialized)
	}
	err := r.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketLists); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketLists)
		return err
	})
	return r.Fail("ClearEntireDatabase", err)
}

func (r *Repository) GetLists(_ context.Context, prefix string) (map[string][]*entity.Entity, error) {
	if r.db == nil {
		return nil, r.Fail("GetLists", errNotInitialized, prefix)
	}
	out := make(map[string][]*entity.Entity)
	err := r.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketLists).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			list, err := entity.DecodeList(string(k), v)
			if err != nil {
				return err
			}
			out[string(k)] = list
		}
		return nil
	})
	if err != nil {
		return nil, r.Fail("GetLists", err, prefix)
	}
	return out, nil
}

func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

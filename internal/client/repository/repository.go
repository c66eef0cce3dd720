// Package repository defines the storage contract of the sync engine and the
// pieces every backend shares: error reporting through a fail hook, item
// validation, the pending-change ledger and the probing factory.
//
// Backends live in sub-packages (memory, bolt, sqlite, s3). Nothing outside
// the factory branches on which one is in use.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/dmitrijs2005/gophsync/internal/logging"
)

// Repository is the CRUD and list contract each storage backend implements.
//
// SaveList is an upsert merge: an item whose ID is already stored replaces
// it, others are appended. It is applied atomically. Backends that persist
// text store dates in the "/Date(ms)/" form and recreate them on read.
type Repository interface {
	// Name identifies the backend in logs.
	Name() string

	// IsSupported reports whether the backend can run in this environment.
	IsSupported(ctx context.Context) bool

	// Init prepares storage for the given entity types.
	Init(ctx context.Context, types []string) error

	GetList(ctx context.Context, typ string) ([]*entity.Entity, error)
	SaveList(ctx context.Context, typ string, items []*entity.Entity) error

	// GetItem returns common.ErrNotFound when the item is absent.
	GetItem(ctx context.Context, typ string, id int64) (*entity.Entity, error)
	SaveItem(ctx context.Context, typ string, item *entity.Entity) error

	DeleteItem(ctx context.Context, typ string, id int64) error
	DeleteItems(ctx context.Context, typ string, ids []int64) error
	DeleteList(ctx context.Context, typ string) error
	ClearEntireDatabase(ctx context.Context) error

	// GetLists returns every stored list whose type starts with prefix.
	GetLists(ctx context.Context, prefix string) (map[string][]*entity.Entity, error)

	Close() error
}

// FailHook observes every backend failure before it is returned.
type FailHook func(op string, args []any, err error)

// LogFailures returns a FailHook that logs through l.
func LogFailures(l logging.Logger) FailHook {
	return func(op string, args []any, err error) {
		l.Error(context.Background(), "storage operation failed", "op", op, "args", args, "error", err)
	}
}

// Failer turns backend errors into *common.StorageError, reporting them to
// the hook first. Backends embed it.
type Failer struct {
	Hook FailHook
}

// Fail wraps err. Errors that already carry a meaning for callers
// (not found, validation) pass through untouched.
func (f Failer) Fail(op string, err error, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrValidation) ||
		errors.Is(err, common.ErrStorageTransaction) {
		return err
	}
	if f.Hook != nil {
		f.Hook(op, args, err)
	}
	return &common.StorageError{Op: op, Err: err}
}

// ValidateItem rejects entities that cannot be keyed in storage.
func ValidateItem(typ string, item *entity.Entity) error {
	if item == nil {
		return fmt.Errorf("%s: nil item: %w", typ, common.ErrValidation)
	}
	if item.ID == 0 {
		return fmt.Errorf("%s: item without ID: %w", typ, common.ErrValidation)
	}
	return nil
}

// ValidateType rejects an empty type name.
func ValidateType(typ string) error {
	if typ == "" {
		return fmt.Errorf("empty type: %w", common.ErrValidation)
	}
	return nil
}

// NotFound builds the error GetItem returns for a missing item.
func NotFound(typ string, id int64) error {
	return fmt.Errorf("%s/%d: %w", typ, id, common.ErrNotFound)
}

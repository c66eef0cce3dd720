// Package sqlite is the transactional SQL repository backend. Entities are
// rows of (type, id, data) where data is the entity's JSON; batch writes run
// inside a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/client/repository"
	"github.com/dmitrijs2005/gophsync/internal/client/repository/sqlite/migrations"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/entity"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return gooseUpContext(ctx, db, ".")
}

type Repository struct {
	repository.Failer
	dsn string
	db  *sql.DB
}

// New returns a backend for dsn, e.g. "file:sync.db" or ":memory:".
func New(dsn string, hook repository.FailHook) *Repository {
	return &Repository{Failer: repository.Failer{Hook: hook}, dsn: dsn}
}

// NewWithDB wraps an already open database.
func NewWithDB(db *sql.DB, hook repository.FailHook) *Repository {
	return &Repository{Failer: repository.Failer{Hook: hook}, db: db}
}

func (r *Repository) Name() string { return "sqlite" }

func (r *Repository) open() error {
	if r.db != nil {
		return nil
	}
	if r.dsn == "" {
		return errors.New("empty dsn")
	}
	db, err := sql.Open("sqlite", r.dsn)
	if err != nil {
		return err
	}
	// One writer keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	r.db = db
	return nil
}

// IsSupported opens the database and pings it.
func (r *Repository) IsSupported(ctx context.Context) bool {
	if err := r.open(); err != nil {
		return false
	}
	return r.db.PingContext(ctx) == nil
}

func (r *Repository) Init(ctx context.Context, _ []string) error {
	if err := r.open(); err != nil {
		return r.Fail("Init", err, r.dsn)
	}
	if err := RunMigrations(ctx, r.db); err != nil {
		return r.Fail("Init", fmt.Errorf("migrations: %w", err), r.dsn)
	}
	return nil
}

func encode(item *entity.Entity) (string, error) {
	data, err := entity.EncodeList([]*entity.Entity{item})
	if err != nil {
		return "", err
	}
	// strip the surrounding brackets; one object per row
	return string(data[1 : len(data)-1]), nil
}

func scanList(rows *sql.Rows) (map[string][]*entity.Entity, error) {
	defer rows.Close()
	out := make(map[string][]*entity.Entity)
	for rows.Next() {
		var typ, data string
		if err := rows.Scan(&typ, &data); err != nil {
			return nil, err
		}
		list, err := entity.DecodeList(typ, []byte("["+data+"]"))
		if err != nil {
			return nil, err
		}
		out[typ] = append(out[typ], list...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) GetList(ctx context.Context, typ string) ([]*entity.Entity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT type, data FROM entities WHERE type = ? ORDER BY rowid`, typ)
	if err != nil {
		return nil, r.Fail("GetList", fmt.Errorf("failed to select entities: %w", err), typ)
	}
	lists, err := scanList(rows)
	if err != nil {
		return nil, r.Fail("GetList", err, typ)
	}
	if list, ok := lists[typ]; ok {
		return list, nil
	}
	return []*entity.Entity{}, nil
}

func upsert(ctx context.Context, tx dbx.DBTX, typ string, item *entity.Entity) error {
	data, err := encode(item)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (type, id, data) VALUES (?, ?, ?)
		ON CONFLICT(type, id) DO UPDATE SET data = excluded.data
	`, typ, item.ID, data)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

func (r *Repository) SaveList(ctx context.Context, typ string, items []*entity.Entity) error {
	if err := repository.ValidateType(typ); err != nil {
		return err
	}
	for _, it := range items {
		if err := repository.ValidateItem(typ, it); err != nil {
			return err
		}
	}
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, it := range items {
			if err := upsert(ctx, tx, typ, it); err != nil {
				return err
			}
		}
		return nil
	})
	return r.Fail("SaveList", err, typ, len(items))
}

func (r *Repository) GetItem(ctx context.Context, typ string, id int64) (*entity.Entity, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM entities WHERE type = ? AND id = ?`, typ, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.NotFound(typ, id)
		}
		return nil, r.Fail("GetItem", err, typ, id)
	}
	list, err := entity.DecodeList(typ, []byte("["+data+"]"))
	if err != nil {
		return nil, r.Fail("GetItem", err, typ, id)
	}
	return list[0], nil
}

func (r *Repository) SaveItem(ctx context.Context, typ string, item *entity.Entity) error {
	return r.SaveList(ctx, typ, []*entity.Entity{item})
}

func (r *Repository) DeleteItem(ctx context.Context, typ string, id int64) error {
	return r.DeleteItems(ctx, typ, []int64{id})
}

func (r *Repository) DeleteItems(ctx context.Context, typ string, ids []int64) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE type = ? AND id = ?`, typ, id); err != nil {
				return fmt.Errorf("failed to delete entity: %w", err)
			}
		}
		return nil
	})
	return r.Fail("DeleteItems", err, typ, ids)
}

func (r *Repository) DeleteList(ctx context.Context, typ string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE type = ?`, typ)
	return r.Fail("DeleteList", err, typ)
}

func (r *Repository) ClearEntireDatabase(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM entities`)
	return r.Fail("ClearEntireDatabase", err)
}

// GetLists compares prefixes with substr rather than LIKE, since the
// reserved prefixes contain the LIKE wildcard "_".
func (r *Repository) GetLists(ctx context.Context, prefix string) (map[string][]*entity.Entity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT type, data FROM entities WHERE substr(type, 1, length(?)) = ? ORDER BY type, rowid`,
		prefix, prefix)
	if err != nil {
		return nil, r.Fail("GetLists", fmt.Errorf("failed to select entities: %w", err), prefix)
	}
	lists, err := scanList(rows)
	if err != nil {
		return nil, r.Fail("GetLists", err, prefix)
	}
	return lists, nil
}

func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

// PostgresRepository implements entity storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, e *models.Entity) error {
	query := `
		INSERT INTO entities (user_id, type, id, data, deleted, version)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		ON CONFLICT (user_id, type, id)
		DO UPDATE SET
			data = EXCLUDED.data,
			deleted = FALSE,
			version = EXCLUDED.version
	`
	if _, err := r.db.ExecContext(ctx, query, e.UserID, e.Type, e.ID, e.Data, e.Version); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, typ string, id int64) (*models.Entity, error) {
	query := `
		SELECT data, deleted, version FROM entities
		WHERE user_id = $1 AND type = $2 AND id = $3
	`
	e := &models.Entity{UserID: userID, Type: typ, ID: id}
	err := r.db.QueryRowContext(ctx, query, userID, typ, id).Scan(&e.Data, &e.Deleted, &e.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) MarkDeleted(ctx context.Context, userID, typ string, id, version int64) (bool, error) {
	query := `
		UPDATE entities SET deleted = TRUE, data = '', version = $4
		WHERE user_id = $1 AND type = $2 AND id = $3 AND deleted = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, userID, typ, id, version)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) SelectUpdated(ctx context.Context, userID string, types []string, since int64) ([]*models.Entity, error) {
	var b strings.Builder
	b.WriteString(`SELECT user_id, type, id, data, deleted, version FROM entities
		WHERE user_id = $1 AND version > $2`)
	args := []any{userID, since}
	if len(types) > 0 {
		b.WriteString(" AND type IN (")
		for i, t := range types {
			if i > 0 {
				b.WriteString(", ")
			}
			args = append(args, t)
			b.WriteString("$" + strconv.Itoa(len(args)))
		}
		b.WriteString(")")
	}
	b.WriteString(" ORDER BY type, id")

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select entities: %w", err)
	}
	return scan(rows)
}

func (r *PostgresRepository) SelectLive(ctx context.Context, userID, typ string) ([]*models.Entity, error) {
	query := `
		SELECT user_id, type, id, data, deleted, version FROM entities
		WHERE user_id = $1 AND type = $2 AND deleted = FALSE
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, userID, typ)
	if err != nil {
		return nil, fmt.Errorf("failed to select entities: %w", err)
	}
	return scan(rows)
}

func scan(rows *sql.Rows) ([]*models.Entity, error) {
	defer rows.Close()

	var result []*models.Entity
	for rows.Next() {
		var item models.Entity
		if err := rows.Scan(&item.UserID, &item.Type, &item.ID, &item.Data, &item.Deleted, &item.Version); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

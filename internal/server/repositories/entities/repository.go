// Package entities stores the authoritative copy of every user's entities,
// including tombstones for deleted ones.
package entities

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type Repository interface {
	// Upsert writes a live row, reviving a tombstone with the same key.
	Upsert(ctx context.Context, e *models.Entity) error
	// Get returns the row, tombstones included, or common.ErrNotFound.
	Get(ctx context.Context, userID, typ string, id int64) (*models.Entity, error)
	// MarkDeleted turns a live row into a tombstone at version. It reports
	// false when there was no live row.
	MarkDeleted(ctx context.Context, userID, typ string, id, version int64) (bool, error)
	// SelectUpdated returns rows, tombstones included, with version > since.
	// An empty types list selects every type.
	SelectUpdated(ctx context.Context, userID string, types []string, since int64) ([]*models.Entity, error)
	// SelectLive returns the live rows of one type ordered by ID.
	SelectLive(ctx context.Context, userID, typ string) ([]*models.Entity, error)
}

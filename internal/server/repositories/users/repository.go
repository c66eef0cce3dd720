// Package users stores server accounts and their per-user counters.
package users

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

type Repository interface {
	// Create fails with common.ErrAlreadyExists for a taken username.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	GetCurrentVersion(ctx context.Context, userID string) (int64, error)
	// IncrementCurrentVersion bumps the user's sync watermark and returns it.
	IncrementCurrentVersion(ctx context.Context, userID string) (int64, error)
	// NextEntityID hands out the next server ID for the user's entities.
	NextEntityID(ctx context.Context, userID string) (int64, error)
}

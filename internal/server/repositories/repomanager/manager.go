// Package repomanager vends repositories bound to a dbx.DBTX and owns the
// schema migrations and database opening for the sync server.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophsync/internal/dbx"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/entities"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Entities(db dbx.DBTX) entities.Repository
}

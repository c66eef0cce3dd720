// Package migrations embeds the schema of the SQLite repository backend.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

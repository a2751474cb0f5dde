// Package migrations embeds SQL migration files into the binary.
//
// This allows Ember to run migrations without the SQL files being
// present on the filesystem.
package migrations

import (
	"embed"

	"github.com/ember-home/ember-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}

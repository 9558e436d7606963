// Package migrations embeds SQL migration files into the binary.
//
// This lets fleetd migrate its database without the SQL files present on
// the filesystem:
//
//	db.Migrate(ctx, migrations.FS, migrations.Dir)
package migrations

import "embed"

// FS holds every migration in this directory.
//
//go:embed *.sql
var FS embed.FS

// Dir is the migration directory inside FS.
const Dir = "."

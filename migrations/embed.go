// Package migrations embeds the credential store schema into the binary.
//
// Files follow YYYYMMDD_HHMMSS_description.{up,down}.sql and are applied by
// database.DB.Migrate.
package migrations

import "embed"

//go:embed *.sql
var files embed.FS

// FS holds the embedded migration files at its root.
var FS = files

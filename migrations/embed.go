// Package migrations embeds the SQL schema for each durable backend so the
// binaries can migrate regardless of working directory.
package migrations

import (
	"embed"
	"io/fs"
)

// FS holds the Postgres migrations (001_initial.sql, ...).
//
//go:embed *.sql
var FS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// SQLite returns the SQLite migrations rooted at their directory.
func SQLite() fs.FS {
	sub, err := fs.Sub(sqliteFS, "sqlite")
	if err != nil {
		panic(err) // the embed pattern guarantees the directory exists
	}
	return sub
}

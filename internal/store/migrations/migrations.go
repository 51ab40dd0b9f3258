// Package migrations embeds the SQL schema migrations for the local
// replica database. Applied at store open via goose.
package migrations

import "embed"

// FS holds the embedded goose migration files.
//
//go:embed *.sql
var FS embed.FS

// Package migrations embeds the SQL schema applied by ledgerctl migrate.
package migrations

import "embed"

// FS holds every migration script.
//
//go:embed *.sql
var FS embed.FS

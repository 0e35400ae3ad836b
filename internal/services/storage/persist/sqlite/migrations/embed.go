package migrations

import "embed"

// FS contains embedded SQLite migrations for persistent tier storage.
//
//go:embed *.sql
var FS embed.FS

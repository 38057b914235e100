package migrations

import "embed"

// FS holds the goose migrations of the app database.
//
//go:embed *.sql
var FS embed.FS

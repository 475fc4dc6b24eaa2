package migrations

import "embed"

// FS holds the embedded SQL migrations for the key/value store.
//
//go:embed *.sql
var FS embed.FS

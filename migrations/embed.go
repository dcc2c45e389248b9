// Package migrations embeds the goose schema migrations for each supported
// store dialect.
package migrations

import "embed"

// FS holds the migrations under one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Dialect directories within FS.
const (
	SQLiteDir   = "sqlite"
	PostgresDir = "postgres"
)

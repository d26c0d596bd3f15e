// Package migrations embeds the PostgreSQL schema of the API server.
package migrations

import "embed"

// Files holds NNN_description.sql files, applied in name order by store.ApplyMigrations.
//
//go:embed *.sql
var Files embed.FS

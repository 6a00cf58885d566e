package storage

import _ "embed"

// Schema is the PostgreSQL layout, applied by Postgres.Migrate.
//
//go:embed schema.sql
var Schema string

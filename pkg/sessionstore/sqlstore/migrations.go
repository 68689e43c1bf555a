package sqlstore

import "embed"

// embedMigrations holds the goose migration set applied to Postgres
// deployments, mirroring the teacher's config/migrations layout
// (database.go's migratePostgres).
//
//go:embed migrations/postgres/*.sql
var embedMigrations embed.FS

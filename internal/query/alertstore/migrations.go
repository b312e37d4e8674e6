package alertstore

import "embed"

// Migrations embeds the goose migration set for the alerts table, for use
// with pkg/database.NewMigrator.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory argument NewMigrator expects alongside
// Migrations.
const MigrationsDir = "migrations"

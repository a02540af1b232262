// Package db provides the embedded, versioned database migrations.
package db

import "embed"

// Migrations holds the golang-migrate source files (NNNNNN_name.up.sql and
// NNNNNN_name.down.sql) under the "migrations" directory.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that holds the files.
const MigrationsDir = "migrations"

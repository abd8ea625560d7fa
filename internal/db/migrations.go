// Package db holds the embedded PostgreSQL schema.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsRoot = "migrations"

// Package sqldocs exposes the records-table DDL bundles directly from the
// docs tree. The sql-backed drivers execute these on startup, so the schema a
// deployment runs is the schema documented here.
package sqldocs

import _ "embed"

// SQLite contains the records table SQLite DDL.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the records table Postgres DDL.
//
//go:embed postgres.sql
var Postgres string

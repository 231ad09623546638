// Package db embeds the SQL schema so binaries can bootstrap a database
// without shipping migration files alongside them.
package db

import _ "embed"

// Schema holds the full DDL for the storefront tables, applied as a single
// idempotent script at startup.
//
//go:embed migrations/001_schema.sql
var Schema string

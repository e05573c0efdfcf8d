// Package db provides embedded database schema and seed files.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// Programs is the seed catalog in JSON form.
//
//go:embed seed/programs.json
var Programs []byte

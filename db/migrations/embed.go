// Package dbmigrations exposes embedded SQL migrations for fleetrelay binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into fleetrelay binaries.
//
//go:embed *.sql
var Files embed.FS

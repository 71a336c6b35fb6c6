//go:build sqlite_cgo

package agsqlite

import _ "github.com/mattn/go-sqlite3"

const driverName = "sqlite3"

//go:build !sqlite_cgo

package agsqlite

import _ "modernc.org/sqlite"

const driverName = "sqlite"

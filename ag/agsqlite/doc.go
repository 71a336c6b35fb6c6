// Package agsqlite implements the agstore interfaces on SQLite.
//
// By default the pure-Go modernc.org/sqlite driver is used.
// Build with the sqlite_cgo tag to use github.com/mattn/go-sqlite3 instead.
package agsqlite

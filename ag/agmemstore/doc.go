// Package agmemstore contains in-memory implementations of the agstore interfaces.
//
// These stores are appropriate for tests and for observers that do not need
// to survive a restart. A validator using them cannot resume safely after a crash.
package agmemstore

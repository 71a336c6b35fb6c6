// Package agtable contains the statement table:
// the append-only record of every signed statement a session has seen,
// together with the incrementally maintained tallies the engine queries.
//
// The first statement seen for a (validator, round, kind) is authoritative
// and is the only one counted.
// Later statements with a different digest are equivocations;
// they are flagged and kept, never discarded.
package agtable

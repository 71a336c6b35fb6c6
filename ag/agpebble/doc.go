// Package agpebble implements the agstore interfaces on a Pebble key-value database.
//
// Every value is CBOR-encoded with [agcbor.Codec].
// Keys begin with a single prefix byte identifying the record type;
// session IDs inside keys are length-prefixed so that no session's keys
// are a prefix of another's.
package agpebble

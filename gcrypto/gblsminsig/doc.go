// Package gblsminsig provides a BLS12-381 validator key type
// for sessions whose validator sets use BLS keys,
// wrapping [github.com/supranational/blst/bindings/go].
//
// Keys live on G2 and signatures on G1 ("minimized signatures"),
// since statements are signed and stored far more often than keys are exchanged.
// Signatures are verified individually; justifications remain lists of
// per-validator signatures regardless of key type.
//
// The blst dependency requires CGo.
//
// See [RFC9380] (Hashing to Elliptic Curves)
// and the IETF draft for [BLS Signatures].
//
// [RFC9380]: https://www.rfc-editor.org/rfc/rfc9380.html
// [BLS Signatures]: https://datatracker.ietf.org/doc/html/draft-irtf-cfrg-bls-signature-05
package gblsminsig

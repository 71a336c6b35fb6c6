package agconsensus

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the length of a [Digest] in bytes.
const DigestSize = blake2b.Size256

// Digest is the blake2b-256 identifier of a candidate.
// The zero Digest is NIL, the vote for "no candidate".
type Digest [DigestSize]byte

// NilDigest is the explicit NIL vote.
var NilDigest Digest

func (d Digest) IsNil() bool {
	return d == NilDigest
}

func (d Digest) String() string {
	if d.IsNil() {
		return "NIL"
	}
	return hex.EncodeToString(d[:])
}

// Short returns the first eight hex characters, for logs.
func (d Digest) Short() string {
	if d.IsNil() {
		return "NIL"
	}
	return hex.EncodeToString(d[:4])
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(d[:])), nil
}

func (d *Digest) UnmarshalText(b []byte) error {
	if len(b) != 2*DigestSize {
		return fmt.Errorf("digest must be %d hex characters, got %d", 2*DigestSize, len(b))
	}
	_, err := hex.Decode(d[:], b)
	return err
}

// DigestFromBytes copies b into a Digest.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, fmt.Errorf("digest must be %d bytes, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

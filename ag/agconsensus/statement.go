package agconsensus

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

type StatementKind uint8

const (
	_ StatementKind = iota // Invalid.

	StatementPropose
	StatementPrepare
	StatementCommit
	StatementRoundChange
)

func (k StatementKind) String() string {
	switch k {
	case StatementPropose:
		return "Propose"
	case StatementPrepare:
		return "Prepare"
	case StatementCommit:
		return "Commit"
	case StatementRoundChange:
		return "RoundChange"
	default:
		return fmt.Sprintf("StatementKind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the defined kinds.
func (k StatementKind) Valid() bool {
	return k >= StatementPropose && k <= StatementRoundChange
}

// Statement is the unsigned content of a vote.
//
// Identity is (ValidatorIndex, Round, Kind);
// a second statement at the same identity with a different Digest is an equivocation.
type Statement struct {
	Kind           StatementKind `json:"kind" cbor:"1,keyasint"`
	Round          uint64        `json:"round" cbor:"2,keyasint"`
	Digest         Digest        `json:"digest" cbor:"3,keyasint"`
	ValidatorIndex uint32        `json:"validator_index" cbor:"4,keyasint"`
}

// SignedStatement is the wire message exchanged between validators.
type SignedStatement struct {
	Statement

	Signature []byte `json:"signature" cbor:"5,keyasint"`

	// LockProof accompanies RoundChange statements whose sender holds a lock:
	// the Prepare quorum that produced the lock.
	// It is self-verifying and therefore not covered by Signature.
	LockProof *Justification `json:"lock_proof,omitempty" cbor:"6,keyasint,omitempty"`
}

// Malformed reports a structural problem with s, or nil.
// It does not consult any validator set.
func (s Statement) Malformed() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("invalid statement kind %d", uint8(s.Kind))
	}

	if s.Kind == StatementPropose && s.Digest.IsNil() {
		return fmt.Errorf("propose statement must reference a candidate")
	}

	return nil
}

const statementDomain = "gagree/statement/v1"

// SignBytes returns the message a validator signs for st in session sid.
//
// The validator index is deliberately excluded,
// so every validator voting for the same (kind, round, digest) signs the same bytes.
func SignBytes(sid SessionID, st Statement) []byte {
	out := make([]byte, 0, len(statementDomain)+2+len(sid)+1+8+DigestSize)
	out = append(out, statementDomain...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(sid)))
	out = append(out, sid...)
	out = append(out, byte(st.Kind))
	out = binary.BigEndian.AppendUint64(out, st.Round)
	out = append(out, st.Digest[:]...)
	return out
}

// Fingerprint identifies an exact signed statement, signature and lock proof included.
// It is used to skip re-verifying byte-identical messages.
func (s SignedStatement) Fingerprint(sid SessionID) [32]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}

	_, _ = h.Write(SignBytes(sid, s.Statement))

	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], s.ValidatorIndex)
	_, _ = h.Write(idx[:])
	writeLenPrefixed(h, s.Signature)

	if s.LockProof == nil {
		_, _ = h.Write([]byte{0})
	} else {
		lp := s.LockProof
		_, _ = h.Write([]byte{1})
		_, _ = h.Write(SignBytes(sid, lp.Statement()))
		for _, vs := range lp.Signatures {
			binary.BigEndian.PutUint32(idx[:], vs.ValidatorIndex)
			_, _ = h.Write(idx[:])
			writeLenPrefixed(h, vs.Signature)
		}
	}

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// Equivocation records a validator signing two different digests
// for the same (round, kind).
type Equivocation struct {
	ValidatorIndex uint32
	Round          uint64
	Kind           StatementKind

	// First is the authoritative statement; Second is the conflicting one.
	First, Second SignedStatement
}

func writeLenPrefixed(w io.Writer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	_, _ = w.Write(n[:])
	_, _ = w.Write(b)
}

// Package agjustify builds and verifies justifications:
// portable quorum proofs over a single (kind, round, digest) statement.
package agjustify

import (
	"errors"
	"fmt"
	"slices"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/gcrypto"
	"github.com/hashicorp/go-multierror"
)

// ErrBadJustification wraps every verification failure.
var ErrBadJustification = errors.New("bad justification")

// Source is the read access [Build] needs from a statement table.
type Source interface {
	ValidatorSet() *agconsensus.ValidatorSet

	// CountedStatements returns the authoritative statements for the key.
	CountedStatements(kind agconsensus.StatementKind, round uint64, d agconsensus.Digest) []agconsensus.SignedStatement
}

// Build returns the smallest set of signatures from src
// whose combined weight meets the quorum for (kind, round, d),
// ordered by validator index.
//
// Signers are chosen heaviest first, breaking ties by lower index,
// so the result is deterministic for a given set of statements.
// Build reports false if the available statements do not reach quorum.
func Build(src Source, kind agconsensus.StatementKind, round uint64, d agconsensus.Digest) (agconsensus.Justification, bool) {
	vs := src.ValidatorSet()
	stmts := src.CountedStatements(kind, round, d)

	slices.SortFunc(stmts, func(a, b agconsensus.SignedStatement) int {
		wa, wb := vs.Weight(a.ValidatorIndex), vs.Weight(b.ValidatorIndex)
		if wa != wb {
			if wa > wb {
				return -1
			}
			return 1
		}
		return int(a.ValidatorIndex) - int(b.ValidatorIndex)
	})

	var acc uint64
	n := 0
	for _, s := range stmts {
		if acc >= vs.Quorum() {
			break
		}
		acc += vs.Weight(s.ValidatorIndex)
		n++
	}
	if acc < vs.Quorum() {
		return agconsensus.Justification{}, false
	}

	chosen := stmts[:n]
	slices.SortFunc(chosen, func(a, b agconsensus.SignedStatement) int {
		return int(a.ValidatorIndex) - int(b.ValidatorIndex)
	})

	j := agconsensus.Justification{
		Kind:       kind,
		Round:      round,
		Digest:     d,
		Signatures: make([]agconsensus.ValidatorSignature, n),
	}
	for i, s := range chosen {
		j.Signatures[i] = agconsensus.ValidatorSignature{
			ValidatorIndex: s.ValidatorIndex,
			Signature:      slices.Clone(s.Signature),
		}
	}

	return j, true
}

// Verify checks that j is a well-formed quorum proof for session sid under vs.
// Every failure wraps [ErrBadJustification];
// individual signature failures are aggregated.
func Verify(sid agconsensus.SessionID, vs *agconsensus.ValidatorSet, j agconsensus.Justification) error {
	if !j.Kind.Valid() {
		return fmt.Errorf("%w: invalid kind %d", ErrBadJustification, uint8(j.Kind))
	}
	if j.Digest.IsNil() {
		return fmt.Errorf("%w: justification for NIL", ErrBadJustification)
	}
	if len(j.Signatures) == 0 {
		return fmt.Errorf("%w: no signatures", ErrBadJustification)
	}

	for i, s := range j.Signatures {
		if _, ok := vs.Validator(s.ValidatorIndex); !ok {
			return fmt.Errorf("%w: unknown validator index %d", ErrBadJustification, s.ValidatorIndex)
		}
		if i > 0 && s.ValidatorIndex <= j.Signatures[i-1].ValidatorIndex {
			return fmt.Errorf(
				"%w: signatures not strictly ordered at position %d (index %d after %d)",
				ErrBadJustification, i, s.ValidatorIndex, j.Signatures[i-1].ValidatorIndex,
			)
		}
	}

	msg := agconsensus.SignBytes(sid, j.Statement())
	proof := gcrypto.NewSignatureProof(msg, vs.PubKeys(), vs.PubKeyHash())

	if res := proof.MergeSparse(j.AsSparse(vs)); !res.AllValidSignatures {
		// Identify the offending signatures for the error.
		var merr *multierror.Error
		for _, s := range j.Signatures {
			if !vs.PubKeys()[s.ValidatorIndex].Verify(msg, s.Signature) {
				merr = multierror.Append(merr, fmt.Errorf("validator %d: %w", s.ValidatorIndex, gcrypto.ErrInvalidSignature))
			}
		}
		if err := merr.ErrorOrNil(); err != nil {
			return fmt.Errorf("%w: %w", ErrBadJustification, err)
		}
		return fmt.Errorf("%w: signatures failed to merge", ErrBadJustification)
	}

	var bs bitset.BitSet
	proof.SignatureBitSet(&bs)

	var weight uint64
	for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
		weight += vs.Weight(uint32(i))
	}

	if weight < vs.Quorum() {
		return fmt.Errorf(
			"%w: signed weight %d below quorum %d", ErrBadJustification, weight, vs.Quorum(),
		)
	}

	return nil
}

// CheckCandidate verifies that j finalizes c in session sid,
// returning the pair as a [agconsensus.JustifiedCandidate].
func CheckCandidate(
	sid agconsensus.SessionID,
	vs *agconsensus.ValidatorSet,
	c agconsensus.Candidate,
	j agconsensus.Justification,
) (agconsensus.JustifiedCandidate, error) {
	d := c.Digest()

	if j.Kind != agconsensus.StatementCommit {
		return agconsensus.JustifiedCandidate{}, fmt.Errorf(
			"%w: candidate %s: expected Commit justification, got %s", ErrBadJustification, d, j.Kind,
		)
	}
	if j.Digest != d {
		return agconsensus.JustifiedCandidate{}, fmt.Errorf(
			"%w: candidate %s: justification is for %s", ErrBadJustification, d, j.Digest,
		)
	}

	if err := Verify(sid, vs, j); err != nil {
		return agconsensus.JustifiedCandidate{}, fmt.Errorf("candidate %s: %w", d, err)
	}

	return agconsensus.JustifiedCandidate{
		Candidate:     c,
		Justification: j,
	}, nil
}

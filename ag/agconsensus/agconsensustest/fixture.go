package agconsensustest

import (
	"context"
	"fmt"
	"slices"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/gcrypto"
)

// Fixture bundles a session's validators and signing helpers for tests.
type Fixture struct {
	SessionID agconsensus.SessionID

	PrivVals PrivVals

	ValidatorSet *agconsensus.ValidatorSet

	Registry gcrypto.Registry
}

// NewEd25519Fixture returns a Fixture with numVals equally weighted ed25519 validators
// and session ID "test-session".
func NewEd25519Fixture(numVals int) *Fixture {
	return NewWeightedEd25519Fixture(make([]uint64, numVals))
}

// NewWeightedEd25519Fixture is like [NewEd25519Fixture] with explicit weights.
// Zero weights are replaced with 1.
func NewWeightedEd25519Fixture(weights []uint64) *Fixture {
	ws := slices.Clone(weights)
	for i, w := range ws {
		if w == 0 {
			ws[i] = 1
		}
	}

	pvs := DeterministicValidatorsEd25519(len(ws), ws)

	vs, err := agconsensus.NewValidatorSet(pvs.Vals())
	if err != nil {
		panic(fmt.Errorf("building fixture validator set: %w", err))
	}

	f := &Fixture{
		SessionID:    "test-session",
		PrivVals:     pvs,
		ValidatorSet: vs,
	}
	gcrypto.RegisterEd25519(&f.Registry)
	return f
}

// SignStatement returns the statement signed by validator idx.
func (f *Fixture) SignStatement(
	ctx context.Context,
	idx int,
	kind agconsensus.StatementKind,
	round uint64,
	d agconsensus.Digest,
) agconsensus.SignedStatement {
	st := agconsensus.Statement{
		Kind:           kind,
		Round:          round,
		Digest:         d,
		ValidatorIndex: uint32(idx),
	}

	sig, err := f.PrivVals[idx].Signer.Sign(ctx, agconsensus.SignBytes(f.SessionID, st))
	if err != nil {
		panic(fmt.Errorf("signing fixture statement: %w", err))
	}

	return agconsensus.SignedStatement{
		Statement: st,
		Signature: sig,
	}
}

// Justification returns a justification signed by the given validator indices,
// in ascending index order.
func (f *Fixture) Justification(
	ctx context.Context,
	kind agconsensus.StatementKind,
	round uint64,
	d agconsensus.Digest,
	idxs ...int,
) agconsensus.Justification {
	sorted := slices.Clone(idxs)
	slices.Sort(sorted)

	j := agconsensus.Justification{
		Kind:   kind,
		Round:  round,
		Digest: d,
	}
	for _, i := range sorted {
		s := f.SignStatement(ctx, i, kind, round, d)
		j.Signatures = append(j.Signatures, agconsensus.ValidatorSignature{
			ValidatorIndex: uint32(i),
			Signature:      s.Signature,
		})
	}
	return j
}

// Candidate returns a candidate at the given height proposed by validator proposer.
func (f *Fixture) Candidate(height uint64, proposer uint32, payload string) agconsensus.Candidate {
	return agconsensus.Candidate{
		Height:        height,
		ProposerIndex: proposer,
		Payload:       []byte(payload),
	}
}

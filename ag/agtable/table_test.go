package agtable_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/gordian-engine/gagree/ag/agjustify"
	"github.com/gordian-engine/gagree/ag/agtable"
	"github.com/gordian-engine/gagree/internal/gtest"
	"github.com/stretchr/testify/require"
)

func newTable(t *testing.T, fx *agconsensustest.Fixture, opts ...agtable.Opt) *agtable.Table {
	t.Helper()
	return agtable.New(gtest.NewLogger(t), fx.SessionID, fx.ValidatorSet, opts...)
}

func TestTable_Accepted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(4)
	tbl := newTable(t, fx)
	d := fx.Candidate(1, 0, "c").Digest()

	res := tbl.AddStatement(fx.SignStatement(ctx, 0, agconsensus.StatementPrepare, 0, d))
	require.Equal(t, agtable.OutcomeAccepted, res.Outcome)
	require.Equal(t, uint64(1), tbl.Tally(0, agconsensus.StatementPrepare, d))
	require.False(t, tbl.HasQuorum(0, agconsensus.StatementPrepare, d))
	require.Equal(t, uint64(1), tbl.RoundWeight(0))

	got, ok := tbl.Authoritative(0, 0, agconsensus.StatementPrepare)
	require.True(t, ok)
	require.Equal(t, d, got.Digest)
}

func TestTable_Rejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(4)
	d := fx.Candidate(1, 0, "c").Digest()

	t.Run("invalid signature", func(t *testing.T) {
		t.Parallel()
		tbl := newTable(t, fx)

		s := fx.SignStatement(ctx, 0, agconsensus.StatementPrepare, 0, d)
		s.ValidatorIndex = 1 // Signed by 0, claims to be 1.
		res := tbl.AddStatement(s)
		require.Equal(t, agtable.OutcomeRejected, res.Outcome)
		require.ErrorIs(t, res.Reason, agtable.ErrInvalidSignature)
		require.Zero(t, tbl.Len())
	})

	t.Run("unknown validator", func(t *testing.T) {
		t.Parallel()
		tbl := newTable(t, fx)

		s := fx.SignStatement(ctx, 0, agconsensus.StatementPrepare, 0, d)
		s.ValidatorIndex = 4
		res := tbl.AddStatement(s)
		require.ErrorIs(t, res.Reason, agtable.ErrUnknownValidator)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		tbl := newTable(t, fx)

		s := fx.SignStatement(ctx, 0, agconsensus.StatementPropose, 0, agconsensus.NilDigest)
		res := tbl.AddStatement(s)
		require.ErrorIs(t, res.Reason, agtable.ErrMalformedStatement)

		res = tbl.AddVerified(agtable.Verified{})
		require.ErrorIs(t, res.Reason, agtable.ErrMalformedStatement)
	})

	t.Run("verified by other session", func(t *testing.T) {
		t.Parallel()
		other := agtable.New(gtest.NewLogger(t), "other", fx.ValidatorSet)
		tbl := newTable(t, fx)

		st := agconsensus.Statement{Kind: agconsensus.StatementPrepare, Digest: d}
		sig, err := fx.PrivVals[0].Signer.Sign(ctx, agconsensus.SignBytes("other", st))
		require.NoError(t, err)

		v, err := other.Check(agconsensus.SignedStatement{Statement: st, Signature: sig})
		require.NoError(t, err)

		res := tbl.AddVerified(v)
		require.Equal(t, agtable.OutcomeRejected, res.Outcome)
	})
}

func TestTable_Duplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(4)
	tbl := newTable(t, fx)
	d := fx.Candidate(1, 0, "c").Digest()

	s := fx.SignStatement(ctx, 2, agconsensus.StatementCommit, 3, d)
	require.Equal(t, agtable.OutcomeAccepted, tbl.AddStatement(s).Outcome)
	require.Equal(t, agtable.OutcomeDuplicate, tbl.AddStatement(s).Outcome)

	require.Equal(t, uint64(1), tbl.Tally(3, agconsensus.StatementCommit, d))
	require.Equal(t, 1, tbl.Len())
}

func TestTable_Equivocation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(4)

	var flagged []agconsensus.Equivocation
	tbl := newTable(t, fx, agtable.WithEquivocationHandler(
		agconsensus.EquivocationHandlerFunc(func(e agconsensus.Equivocation) {
			flagged = append(flagged, e)
		}),
	))

	a := fx.Candidate(1, 0, "a").Digest()
	b := fx.Candidate(1, 0, "b").Digest()
	c := fx.Candidate(1, 0, "c").Digest()

	require.Equal(t, agtable.OutcomeAccepted, tbl.AddStatement(fx.SignStatement(ctx, 1, agconsensus.StatementPrepare, 0, a)).Outcome)

	res := tbl.AddStatement(fx.SignStatement(ctx, 1, agconsensus.StatementPrepare, 0, b))
	require.Equal(t, agtable.OutcomeEquivocation, res.Outcome)
	require.NotNil(t, res.Equivocation)
	require.Equal(t, a, res.Equivocation.First.Digest)
	require.Equal(t, b, res.Equivocation.Second.Digest)

	// A third digest is still an equivocation, but is not flagged again.
	res = tbl.AddStatement(fx.SignStatement(ctx, 1, agconsensus.StatementPrepare, 0, c))
	require.Equal(t, agtable.OutcomeEquivocation, res.Outcome)
	require.Nil(t, res.Equivocation)

	// Repeating the conflicting statement is a duplicate.
	res = tbl.AddStatement(fx.SignStatement(ctx, 1, agconsensus.StatementPrepare, 0, b))
	require.Equal(t, agtable.OutcomeDuplicate, res.Outcome)

	require.Len(t, flagged, 1)
	require.Len(t, tbl.Equivocations(), 1)

	// Only the first-seen statement counts.
	require.Equal(t, uint64(1), tbl.Tally(0, agconsensus.StatementPrepare, a))
	require.Zero(t, tbl.Tally(0, agconsensus.StatementPrepare, b))
	require.Zero(t, tbl.Tally(0, agconsensus.StatementPrepare, c))

	// All three remain in the log.
	require.Equal(t, 3, tbl.Len())
	require.True(t, tbl.Entries()[0].Counted)
	require.False(t, tbl.Entries()[1].Counted)
}

func TestTable_Stale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(4)
	tbl := newTable(t, fx)
	d := fx.Candidate(1, 0, "c").Digest()

	tbl.SetFinalizedRound(2)
	// Cannot move backwards.
	tbl.SetFinalizedRound(1)

	res := tbl.AddStatement(fx.SignStatement(ctx, 0, agconsensus.StatementCommit, 1, d))
	require.Equal(t, agtable.OutcomeRejected, res.Outcome)
	require.ErrorIs(t, res.Reason, agtable.ErrStaleRound)

	// Logged but not counted.
	require.Equal(t, 1, tbl.Len())
	require.False(t, tbl.Entries()[0].Counted)
	require.Zero(t, tbl.Tally(1, agconsensus.StatementCommit, d))

	// The finalized round itself is not stale.
	res = tbl.AddStatement(fx.SignStatement(ctx, 0, agconsensus.StatementCommit, 2, d))
	require.Equal(t, agtable.OutcomeAccepted, res.Outcome)
}

func TestTable_StaleConflictFlagged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(4)

	var flagged []agconsensus.Equivocation
	tbl := newTable(t, fx, agtable.WithEquivocationHandler(
		agconsensus.EquivocationHandlerFunc(func(e agconsensus.Equivocation) {
			flagged = append(flagged, e)
		}),
	))
	tbl.SetFinalizedRound(2)

	a := fx.Candidate(1, 0, "a").Digest()
	b := fx.Candidate(1, 0, "b").Digest()

	res := tbl.AddStatement(fx.SignStatement(ctx, 1, agconsensus.StatementPrepare, 0, a))
	require.ErrorIs(t, res.Reason, agtable.ErrStaleRound)

	res = tbl.AddStatement(fx.SignStatement(ctx, 1, agconsensus.StatementPrepare, 0, b))
	require.Equal(t, agtable.OutcomeEquivocation, res.Outcome)
	require.NotNil(t, res.Equivocation)
	require.Equal(t, a, res.Equivocation.First.Digest)
	require.Equal(t, b, res.Equivocation.Second.Digest)
	require.Len(t, flagged, 1)

	// Neither is counted.
	require.Equal(t, 2, tbl.Len())
	require.Zero(t, tbl.Tally(0, agconsensus.StatementPrepare, a))
	require.Zero(t, tbl.Tally(0, agconsensus.StatementPrepare, b))
	_, ok := tbl.Authoritative(1, 0, agconsensus.StatementPrepare)
	require.False(t, ok)

	// A repeat stays stale.
	res = tbl.AddStatement(fx.SignStatement(ctx, 1, agconsensus.StatementPrepare, 0, a))
	require.ErrorIs(t, res.Reason, agtable.ErrStaleRound)
	require.Equal(t, 2, tbl.Len())
}

func TestTable_Record(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(4)

	var flagged []agconsensus.Equivocation
	tbl := newTable(t, fx, agtable.WithEquivocationHandler(
		agconsensus.EquivocationHandlerFunc(func(e agconsensus.Equivocation) {
			flagged = append(flagged, e)
		}),
	))

	a := fx.Candidate(1, 0, "a").Digest()
	b := fx.Candidate(1, 0, "b").Digest()
	errPassed := errors.New("round passed")

	check := func(t *testing.T, s agconsensus.SignedStatement) agtable.Verified {
		t.Helper()
		v, err := tbl.Check(s)
		require.NoError(t, err)
		return v
	}

	t.Run("empty slot", func(t *testing.T) {
		res := tbl.Record(check(t, fx.SignStatement(ctx, 2, agconsensus.StatementPrepare, 0, a)), errPassed)
		require.Equal(t, agtable.OutcomeRejected, res.Outcome)
		require.ErrorIs(t, res.Reason, errPassed)

		require.Equal(t, 1, tbl.Len())
		require.False(t, tbl.Entries()[0].Counted)
		require.Zero(t, tbl.Tally(0, agconsensus.StatementPrepare, a))

		// Adding the same statement later does not count it.
		res = tbl.AddStatement(fx.SignStatement(ctx, 2, agconsensus.StatementPrepare, 0, a))
		require.Equal(t, agtable.OutcomeDuplicate, res.Outcome)
		require.Zero(t, tbl.Tally(0, agconsensus.StatementPrepare, a))
		require.Equal(t, 1, tbl.Len())
	})

	t.Run("copy of the counted statement", func(t *testing.T) {
		s := fx.SignStatement(ctx, 3, agconsensus.StatementPrepare, 0, a)
		require.Equal(t, agtable.OutcomeAccepted, tbl.AddStatement(s).Outcome)

		res := tbl.Record(check(t, s), errPassed)
		require.Equal(t, agtable.OutcomeDuplicate, res.Outcome)
		require.Equal(t, fx.ValidatorSet.Weight(3), tbl.Tally(0, agconsensus.StatementPrepare, a))
	})

	t.Run("conflict", func(t *testing.T) {
		res := tbl.Record(check(t, fx.SignStatement(ctx, 3, agconsensus.StatementPrepare, 0, b)), errPassed)
		require.Equal(t, agtable.OutcomeEquivocation, res.Outcome)
		require.NotNil(t, res.Equivocation)
		require.Equal(t, a, res.Equivocation.First.Digest)
		require.Equal(t, b, res.Equivocation.Second.Digest)
		require.Len(t, flagged, 1)

		// The conflicting digest is rejected on repeat, not flagged again.
		res = tbl.Record(check(t, fx.SignStatement(ctx, 3, agconsensus.StatementPrepare, 0, b)), errPassed)
		require.Equal(t, agtable.OutcomeRejected, res.Outcome)
		require.ErrorIs(t, res.Reason, errPassed)
		require.Len(t, flagged, 1)
		require.Zero(t, tbl.Tally(0, agconsensus.StatementPrepare, b))
	})

	t.Run("unverified", func(t *testing.T) {
		res := tbl.Record(agtable.Verified{}, errPassed)
		require.ErrorIs(t, res.Reason, agtable.ErrMalformedStatement)
	})
}

func TestTable_LockProofOnLaterCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(4)
	tbl := newTable(t, fx)

	d := fx.Candidate(1, 1, "d").Digest()
	bare := fx.SignStatement(ctx, 0, agconsensus.StatementRoundChange, 1, d)
	require.Equal(t, agtable.OutcomeAccepted, tbl.AddStatement(bare).Outcome)

	got, ok := tbl.Authoritative(0, 1, agconsensus.StatementRoundChange)
	require.True(t, ok)
	require.Nil(t, got.LockProof)

	withProof := bare
	lp := fx.Justification(ctx, agconsensus.StatementPrepare, 1, d, 0, 1, 2)
	withProof.LockProof = &lp
	require.Equal(t, agtable.OutcomeDuplicate, tbl.AddStatement(withProof).Outcome)

	got, ok = tbl.Authoritative(0, 1, agconsensus.StatementRoundChange)
	require.True(t, ok)
	require.NotNil(t, got.LockProof)
	require.Equal(t, uint64(1), got.LockProof.Round)
	require.Equal(t, d, got.LockProof.Digest)

	// A copy without the proof leaves it in place.
	require.Equal(t, agtable.OutcomeDuplicate, tbl.AddStatement(bare).Outcome)
	got, _ = tbl.Authoritative(0, 1, agconsensus.StatementRoundChange)
	require.NotNil(t, got.LockProof)
	require.Equal(t, 1, tbl.Len())
}

func TestTable_QuorumAndJustification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(4)
	tbl := newTable(t, fx)
	d := fx.Candidate(1, 0, "c").Digest()

	for i := range 2 {
		tbl.AddStatement(fx.SignStatement(ctx, i, agconsensus.StatementCommit, 0, d))
	}
	_, ok := tbl.JustificationFor(0, d)
	require.False(t, ok)
	require.False(t, tbl.IsIncludable(d))

	tbl.AddStatement(fx.SignStatement(ctx, 3, agconsensus.StatementCommit, 0, d))
	require.True(t, tbl.HasQuorum(0, agconsensus.StatementCommit, d))
	require.Equal(t, []agconsensus.Digest{d}, tbl.QuorumDigests(0, agconsensus.StatementCommit))
	require.True(t, tbl.IsIncludable(d))

	j, ok := tbl.JustificationFor(0, d)
	require.True(t, ok)
	require.Len(t, j.Signatures, 3)
	require.NoError(t, agjustify.Verify(fx.SessionID, fx.ValidatorSet, j))

	// A fourth commit does not change the minimal justification size.
	tbl.AddStatement(fx.SignStatement(ctx, 2, agconsensus.StatementCommit, 0, d))
	j, ok = tbl.JustificationFor(0, d)
	require.True(t, ok)
	require.Len(t, j.Signatures, 3)
}

func TestTable_FixedFaultToleranceQuorumsOverlap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(7)
	vs, err := agconsensus.NewValidatorSet(fx.ValidatorSet.Validators(), agconsensus.WithFaultTolerance(1))
	require.NoError(t, err)
	fx.ValidatorSet = vs

	a := fx.Candidate(1, 0, "a").Digest()
	b := fx.Candidate(1, 0, "b").Digest()

	// Validator 0 commits to both; two disjoint honest pairs split between them.
	tblA := newTable(t, fx)
	tblB := newTable(t, fx)
	for _, i := range []int{0, 1, 2} {
		tblA.AddStatement(fx.SignStatement(ctx, i, agconsensus.StatementCommit, 0, a))
	}
	for _, i := range []int{0, 3, 4} {
		tblB.AddStatement(fx.SignStatement(ctx, i, agconsensus.StatementCommit, 0, b))
	}

	require.False(t, tblA.HasQuorum(0, agconsensus.StatementCommit, a))
	require.False(t, tblB.HasQuorum(0, agconsensus.StatementCommit, b))
	require.False(t, tblA.IsIncludable(a))
	require.False(t, tblB.IsIncludable(b))

	err = agjustify.Verify(fx.SessionID, vs, fx.Justification(ctx, agconsensus.StatementCommit, 0, a, 0, 1, 2))
	require.ErrorIs(t, err, agjustify.ErrBadJustification)
}

func TestTable_NilQuorumNotIncludable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(4)
	tbl := newTable(t, fx)

	for i := range 3 {
		tbl.AddStatement(fx.SignStatement(ctx, i, agconsensus.StatementPrepare, 0, agconsensus.NilDigest))
	}

	require.True(t, tbl.HasQuorum(0, agconsensus.StatementPrepare, agconsensus.NilDigest))
	require.False(t, tbl.IsIncludable(agconsensus.NilDigest))
	require.Equal(t, uint64(3), tbl.KindWeight(0, agconsensus.StatementPrepare))
}

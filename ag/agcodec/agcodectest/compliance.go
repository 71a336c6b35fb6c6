// Package agcodectest holds a compliance suite for [agcodec.Codec] implementations.
package agcodectest

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gagree/ag/agcodec"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/stretchr/testify/require"
)

// TestCodecCompliance checks that c preserves every field agreement depends on.
func TestCodecCompliance(t *testing.T, c agcodec.Codec) {
	t.Run("statement with lock proof", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := agconsensustest.NewEd25519Fixture(4)
		d := fx.Candidate(1, 0, "payload").Digest()

		s := fx.SignStatement(ctx, 2, agconsensus.StatementRoundChange, 3, d)
		j := fx.Justification(ctx, agconsensus.StatementPrepare, 2, d, 0, 1, 2)
		s.LockProof = &j

		b, err := c.MarshalStatement(s)
		require.NoError(t, err)

		var got agconsensus.SignedStatement
		require.NoError(t, c.UnmarshalStatement(b, &got))
		require.Equal(t, s, got)
		require.Equal(t, s.Fingerprint(fx.SessionID), got.Fingerprint(fx.SessionID))
	})

	t.Run("NIL statement without lock proof", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := agconsensustest.NewEd25519Fixture(4)
		s := fx.SignStatement(ctx, 0, agconsensus.StatementPrepare, 0, agconsensus.NilDigest)

		b, err := c.MarshalStatement(s)
		require.NoError(t, err)

		var got agconsensus.SignedStatement
		require.NoError(t, c.UnmarshalStatement(b, &got))
		require.Nil(t, got.LockProof)
		require.True(t, got.Digest.IsNil())
		require.Equal(t, s.Signature, got.Signature)
	})

	t.Run("round state", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := agconsensustest.NewEd25519Fixture(4)
		d := fx.Candidate(1, 0, "locked").Digest()
		j := fx.Justification(ctx, agconsensus.StatementPrepare, 5, d, 1, 2, 3)

		rs := agconsensus.RoundState{
			Round:       6,
			Phase:       agconsensus.PhasePrepare,
			Locked:      d,
			LockedRound: 5,
			LockProof:   &j,
			Deadline:    time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC),
		}

		b, err := c.MarshalRoundState(rs)
		require.NoError(t, err)

		var got agconsensus.RoundState
		require.NoError(t, c.UnmarshalRoundState(b, &got))
		require.True(t, rs.Deadline.Equal(got.Deadline))
		got.Deadline = rs.Deadline
		require.Equal(t, rs, got)
	})

	t.Run("candidate and justification", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := agconsensustest.NewEd25519Fixture(4)
		cand := fx.Candidate(7, 2, "hello")
		j := fx.Justification(ctx, agconsensus.StatementCommit, 0, cand.Digest(), 0, 2, 3)

		cb, err := c.MarshalCandidate(cand)
		require.NoError(t, err)
		var gotCand agconsensus.Candidate
		require.NoError(t, c.UnmarshalCandidate(cb, &gotCand))
		require.Equal(t, cand.Digest(), gotCand.Digest())

		jb, err := c.MarshalJustification(j)
		require.NoError(t, err)
		var gotJ agconsensus.Justification
		require.NoError(t, c.UnmarshalJustification(jb, &gotJ))
		require.Equal(t, j, gotJ)
	})
}

package agstoretest

import (
	"context"
	"testing"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agstore"
	"github.com/stretchr/testify/require"
)

// TestStatementStoreCompliance runs the compliance tests for a StatementStore.
func TestStatementStoreCompliance(
	t *testing.T,
	f StoreFactory[agstore.StatementStore],
	ff FixtureFactory,
) {
	t.Run("empty session loads empty", func(t *testing.T) {
		t.Parallel()

		s := newStore(t, f)

		got, err := s.LoadStatements(context.Background(), "nobody")
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("statements load in position order", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := ff(4)
		s := newStore(t, f)

		d := fx.Candidate(1, 0, "x").Digest()
		j := fx.Justification(ctx, agconsensus.StatementPrepare, 0, d, 0, 1, 2)
		rc := fx.SignStatement(ctx, 3, agconsensus.StatementRoundChange, 1, d)
		rc.LockProof = &j

		want := []agconsensus.SignedStatement{
			fx.SignStatement(ctx, 0, agconsensus.StatementPropose, 0, d),
			fx.SignStatement(ctx, 1, agconsensus.StatementPrepare, 0, d),
			fx.SignStatement(ctx, 2, agconsensus.StatementPrepare, 0, agconsensus.NilDigest),
			rc,
		}

		// Insert out of order; loads must still be sorted by position.
		for _, i := range []int{2, 0, 3, 1} {
			require.NoError(t, s.AppendStatement(ctx, fx.SessionID, uint64(i), want[i]))
		}

		got, err := s.LoadStatements(ctx, fx.SessionID)
		require.NoError(t, err)
		require.Len(t, got, len(want))
		for i := range want {
			require.Equal(t, want[i].Fingerprint(fx.SessionID), got[i].Fingerprint(fx.SessionID))
		}
		require.NotNil(t, got[3].LockProof)
		require.Equal(t, j, *got[3].LockProof)
	})

	t.Run("rewrite of same statement is idempotent", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := ff(4)
		s := newStore(t, f)

		st := fx.SignStatement(ctx, 0, agconsensus.StatementPrepare, 0, agconsensus.NilDigest)
		require.NoError(t, s.AppendStatement(ctx, fx.SessionID, 0, st))
		require.NoError(t, s.AppendStatement(ctx, fx.SessionID, 0, st))

		other := fx.SignStatement(ctx, 1, agconsensus.StatementPrepare, 0, agconsensus.NilDigest)
		err := s.AppendStatement(ctx, fx.SessionID, 0, other)
		require.ErrorIs(t, err, agstore.ErrConflict)

		got, err := s.LoadStatements(ctx, fx.SessionID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, st.Fingerprint(fx.SessionID), got[0].Fingerprint(fx.SessionID))
	})

	t.Run("sessions are independent", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := ff(4)
		s := newStore(t, f)

		st := fx.SignStatement(ctx, 0, agconsensus.StatementPrepare, 0, agconsensus.NilDigest)
		require.NoError(t, s.AppendStatement(ctx, "a", 0, st))

		got, err := s.LoadStatements(ctx, "b")
		require.NoError(t, err)
		require.Empty(t, got)
	})
}

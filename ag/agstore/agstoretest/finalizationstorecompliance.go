package agstoretest

import (
	"context"
	"testing"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agstore"
	"github.com/stretchr/testify/require"
)

// TestFinalizationStoreCompliance runs the compliance tests for a FinalizationStore.
func TestFinalizationStoreCompliance(
	t *testing.T,
	f StoreFactory[agstore.FinalizationStore],
	ff FixtureFactory,
) {
	t.Run("unfinalized session is ErrNotFound", func(t *testing.T) {
		t.Parallel()

		s := newStore(t, f)

		_, _, err := s.LoadFinalization(context.Background(), "nobody")
		require.ErrorIs(t, err, agstore.ErrNotFound)
	})

	t.Run("round trip and write-once", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := ff(4)
		s := newStore(t, f)

		c := fx.Candidate(5, 1, "final")
		j := fx.Justification(ctx, agconsensus.StatementCommit, 2, c.Digest(), 0, 1, 3)

		require.NoError(t, s.SaveFinalization(ctx, fx.SessionID, c, j))

		// Same digest again is accepted, even with a different signer subset.
		j2 := fx.Justification(ctx, agconsensus.StatementCommit, 2, c.Digest(), 1, 2, 3)
		require.NoError(t, s.SaveFinalization(ctx, fx.SessionID, c, j2))

		gotC, gotJ, err := s.LoadFinalization(ctx, fx.SessionID)
		require.NoError(t, err)
		require.Equal(t, c.Digest(), gotC.Digest())
		require.Equal(t, j, gotJ)

		other := fx.Candidate(5, 2, "other")
		oj := fx.Justification(ctx, agconsensus.StatementCommit, 3, other.Digest(), 0, 1, 2)
		err = s.SaveFinalization(ctx, fx.SessionID, other, oj)
		require.ErrorIs(t, err, agstore.ErrConflict)
	})
}

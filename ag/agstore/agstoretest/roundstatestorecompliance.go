package agstoretest

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agstore"
	"github.com/stretchr/testify/require"
)

// TestRoundStateStoreCompliance runs the compliance tests for a RoundStateStore.
func TestRoundStateStoreCompliance(
	t *testing.T,
	f StoreFactory[agstore.RoundStateStore],
	ff FixtureFactory,
) {
	t.Run("missing state is ErrNotFound", func(t *testing.T) {
		t.Parallel()

		s := newStore(t, f)

		_, err := s.LoadRoundState(context.Background(), "nobody")
		require.ErrorIs(t, err, agstore.ErrNotFound)
	})

	t.Run("latest save wins", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := ff(4)
		s := newStore(t, f)

		require.NoError(t, s.SaveRoundState(ctx, fx.SessionID, agconsensus.RoundState{
			Round: 0,
			Phase: agconsensus.PhaseAwaitPropose,
		}))

		d := fx.Candidate(1, 0, "x").Digest()
		j := fx.Justification(ctx, agconsensus.StatementPrepare, 1, d, 0, 1, 2)
		want := agconsensus.RoundState{
			Round:       1,
			Phase:       agconsensus.PhaseCommit,
			Locked:      d,
			LockedRound: 1,
			LockProof:   &j,
			Deadline:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		}
		require.NoError(t, s.SaveRoundState(ctx, fx.SessionID, want))

		got, err := s.LoadRoundState(ctx, fx.SessionID)
		require.NoError(t, err)
		require.True(t, want.Deadline.Equal(got.Deadline))
		got.Deadline = want.Deadline
		require.Equal(t, want, got)
	})

	t.Run("sessions are independent", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t, f)

		require.NoError(t, s.SaveRoundState(ctx, "a", agconsensus.RoundState{Round: 3, Phase: agconsensus.PhasePrepare}))
		require.NoError(t, s.SaveRoundState(ctx, "b", agconsensus.RoundState{Round: 7, Phase: agconsensus.PhaseAwaitPropose}))

		a, err := s.LoadRoundState(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, uint64(3), a.Round)

		b, err := s.LoadRoundState(ctx, "b")
		require.NoError(t, err)
		require.Equal(t, uint64(7), b.Round)
		require.False(t, b.IsLocked())
	})
}

package agstoretest

import (
	"context"
	"testing"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agstore"
	"github.com/stretchr/testify/require"
)

// TestCandidateStoreCompliance runs the compliance tests for a CandidateStore.
func TestCandidateStoreCompliance(
	t *testing.T,
	f StoreFactory[agstore.CandidateStore],
	ff FixtureFactory,
) {
	t.Run("empty store", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t, f)

		_, err := s.LoadBest(ctx)
		require.ErrorIs(t, err, agstore.ErrNotFound)

		_, _, err = s.LoadCandidate(ctx, agconsensus.Digest{1})
		require.ErrorIs(t, err, agstore.ErrNotFound)

		bad, err := s.IsKnownBad(ctx, agconsensus.Digest{1})
		require.NoError(t, err)
		require.False(t, bad)
	})

	t.Run("save, load, and best", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := ff(4)
		s := newStore(t, f)

		c1 := fx.Candidate(1, 0, "one")
		c2 := fx.Candidate(2, 1, "two")
		c2.Parent = c1.Digest()

		jc1 := agconsensus.JustifiedCandidate{
			Candidate:     c1,
			Justification: fx.Justification(ctx, agconsensus.StatementCommit, 0, c1.Digest(), 0, 1, 2),
		}
		jc2 := agconsensus.JustifiedCandidate{
			Candidate:     c2,
			Justification: fx.Justification(ctx, agconsensus.StatementCommit, 1, c2.Digest(), 1, 2, 3),
		}

		// Higher height first, to ensure best is not simply the latest write.
		require.NoError(t, s.SaveCandidate(ctx, "s2", jc2))
		require.NoError(t, s.SaveCandidate(ctx, "s1", jc1))
		require.NoError(t, s.SaveCandidate(ctx, "s1", jc1))

		sid, got, err := s.LoadCandidate(ctx, c1.Digest())
		require.NoError(t, err)
		require.Equal(t, agconsensus.SessionID("s1"), sid)
		require.Equal(t, c1.Digest(), got.Candidate.Digest())
		require.Equal(t, jc1.Justification, got.Justification)

		best, err := s.LoadBest(ctx)
		require.NoError(t, err)
		require.Equal(t, c2.Digest(), best.Candidate.Digest())
	})

	t.Run("known bad", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t, f)

		d := agconsensus.Digest{9, 9, 9}
		require.NoError(t, s.SetKnownBad(ctx, d))
		require.NoError(t, s.SetKnownBad(ctx, d))

		bad, err := s.IsKnownBad(ctx, d)
		require.NoError(t, err)
		require.True(t, bad)

		bad, err = s.IsKnownBad(ctx, agconsensus.Digest{1})
		require.NoError(t, err)
		require.False(t, bad)
	})
}

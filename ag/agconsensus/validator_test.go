package agconsensus_test

import (
	"testing"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/stretchr/testify/require"
)

func TestValidatorSet_Quorum(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		n      int
		fault  uint64
		quorum uint64
	}{
		{n: 1, fault: 0, quorum: 1},
		{n: 3, fault: 0, quorum: 3},
		{n: 4, fault: 1, quorum: 3},
		{n: 5, fault: 1, quorum: 4},
		{n: 7, fault: 2, quorum: 5},
		{n: 10, fault: 3, quorum: 7},
	} {
		vs := agconsensustest.NewEd25519Fixture(tc.n).ValidatorSet
		require.Equal(t, uint64(tc.n), vs.TotalWeight())
		require.Equal(t, tc.fault, vs.FaultWeight(), "n=%d", tc.n)
		require.Equal(t, tc.quorum, vs.Quorum(), "n=%d", tc.n)
	}
}

func TestValidatorSet_Weighted(t *testing.T) {
	t.Parallel()

	vs := agconsensustest.NewWeightedEd25519Fixture([]uint64{40, 30, 20, 10}).ValidatorSet
	require.Equal(t, uint64(100), vs.TotalWeight())
	require.Equal(t, uint64(33), vs.FaultWeight())
	require.Equal(t, uint64(67), vs.Quorum())
}

func TestValidatorSet_FaultToleranceOption(t *testing.T) {
	t.Parallel()

	pvs := agconsensustest.DeterministicValidatorsEd25519(7, nil)

	vs, err := agconsensus.NewValidatorSet(pvs.Vals(), agconsensus.WithFaultTolerance(1))
	require.NoError(t, err)
	require.Equal(t, uint64(1), vs.FaultWeight())
	// Two quorums of 3 out of 7 could be disjoint; total-f keeps them overlapping.
	require.Equal(t, uint64(6), vs.Quorum())

	vs, err = agconsensus.NewValidatorSet(pvs.Vals(), agconsensus.WithFaultTolerance(2))
	require.NoError(t, err)
	require.Equal(t, uint64(5), vs.Quorum())

	_, err = agconsensus.NewValidatorSet(pvs.Vals(), agconsensus.WithFaultTolerance(3))
	require.ErrorContains(t, err, "requires total weight of at least 10")
}

func TestValidatorSet_quorumsIntersectInHonestWeight(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 13; n++ {
		pvs := agconsensustest.DeterministicValidatorsEd25519(n, nil)
		for f := uint64(0); 3*f+1 <= uint64(n); f++ {
			vs, err := agconsensus.NewValidatorSet(pvs.Vals(), agconsensus.WithFaultTolerance(f))
			require.NoError(t, err)

			// Two quorums share at least 2q-total weight, which must exceed f.
			overlap := 2*vs.Quorum() - vs.TotalWeight()
			require.Greaterf(t, overlap, vs.FaultWeight(), "n=%d f=%d", n, f)
			require.LessOrEqualf(t, vs.Quorum(), vs.TotalWeight()-vs.FaultWeight(), "n=%d f=%d", n, f)
		}
	}
}

func TestNewValidatorSet_Rejects(t *testing.T) {
	t.Parallel()

	pvs := agconsensustest.DeterministicValidatorsEd25519(2, nil)

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		_, err := agconsensus.NewValidatorSet(nil)
		require.Error(t, err)
	})

	t.Run("zero weight", func(t *testing.T) {
		t.Parallel()
		vals := pvs.Vals()
		vals[1].Weight = 0
		_, err := agconsensus.NewValidatorSet(vals)
		require.ErrorContains(t, err, "zero weight")
	})

	t.Run("duplicate key", func(t *testing.T) {
		t.Parallel()
		vals := pvs.Vals()
		vals[1].PubKey = vals[0].PubKey
		_, err := agconsensus.NewValidatorSet(vals)
		require.ErrorContains(t, err, "share a public key")
	})
}

func TestValidatorSet_Immutable(t *testing.T) {
	t.Parallel()

	vals := agconsensustest.DeterministicValidatorsEd25519(3, nil).Vals()
	vs, err := agconsensus.NewValidatorSet(vals)
	require.NoError(t, err)

	vals[0].Weight = 1000
	require.Equal(t, uint64(1), vs.Weight(0))

	got := vs.Validators()
	got[1].Weight = 1000
	require.Equal(t, uint64(1), vs.Weight(1))

	_, ok := vs.Validator(3)
	require.False(t, ok)
}

package agsqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/gordian-engine/gagree/ag/agsqlite"
	"github.com/gordian-engine/gagree/ag/agstore"
	"github.com/gordian-engine/gagree/ag/agstore/agstoretest"
	"github.com/stretchr/testify/require"
)

func newMemStore(cleanup func(func())) (*agsqlite.Store, error) {
	s, err := agsqlite.OpenMemory(context.Background())
	if err != nil {
		return nil, err
	}
	cleanup(func() { _ = s.Close() })
	return s, nil
}

func TestRoundStateStoreCompliance(t *testing.T) {
	t.Parallel()

	agstoretest.TestRoundStateStoreCompliance(
		t,
		func(cleanup func(func())) (agstore.RoundStateStore, error) {
			return newMemStore(cleanup)
		},
		agconsensustest.NewEd25519Fixture,
	)
}

func TestStatementStoreCompliance(t *testing.T) {
	t.Parallel()

	agstoretest.TestStatementStoreCompliance(
		t,
		func(cleanup func(func())) (agstore.StatementStore, error) {
			return newMemStore(cleanup)
		},
		agconsensustest.NewEd25519Fixture,
	)
}

func TestFinalizationStoreCompliance(t *testing.T) {
	t.Parallel()

	agstoretest.TestFinalizationStoreCompliance(
		t,
		func(cleanup func(func())) (agstore.FinalizationStore, error) {
			return newMemStore(cleanup)
		},
		agconsensustest.NewEd25519Fixture,
	)
}

func TestCandidateStoreCompliance(t *testing.T) {
	t.Parallel()

	agstoretest.TestCandidateStoreCompliance(
		t,
		func(cleanup func(func())) (agstore.CandidateStore, error) {
			return newMemStore(cleanup)
		},
		agconsensustest.NewEd25519Fixture,
	)
}

func TestStore_survivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gagree.sqlite")
	fx := agconsensustest.NewEd25519Fixture(4)

	s, err := agsqlite.Open(ctx, path)
	require.NoError(t, err)

	st := fx.SignStatement(ctx, 1, agconsensus.StatementPrepare, 2, agconsensus.NilDigest)
	require.NoError(t, s.AppendStatement(ctx, fx.SessionID, 0, st))
	require.NoError(t, s.SaveRoundState(ctx, fx.SessionID, agconsensus.RoundState{
		Round: 2,
		Phase: agconsensus.PhasePrepare,
	}))
	require.NoError(t, s.Close())

	s, err = agsqlite.Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	rs, err := s.LoadRoundState(ctx, fx.SessionID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rs.Round)
	require.Equal(t, agconsensus.PhasePrepare, rs.Phase)

	got, err := s.LoadStatements(ctx, fx.SessionID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, st.Fingerprint(fx.SessionID), got[0].Fingerprint(fx.SessionID))
}

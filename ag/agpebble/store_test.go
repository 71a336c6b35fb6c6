package agpebble_test

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/gordian-engine/gagree/ag/agpebble"
	"github.com/gordian-engine/gagree/ag/agstore"
	"github.com/gordian-engine/gagree/ag/agstore/agstoretest"
)

func newMemStore(cleanup func(func())) (*agpebble.Store, error) {
	s, err := agpebble.Open("", &pebble.Options{FS: vfs.NewMem()})
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

package agmemstore_test

import (
	"testing"

	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/gordian-engine/gagree/ag/agmemstore"
	"github.com/gordian-engine/gagree/ag/agstore"
	"github.com/gordian-engine/gagree/ag/agstore/agstoretest"
)

func TestRoundStateStoreCompliance(t *testing.T) {
	t.Parallel()

	agstoretest.TestRoundStateStoreCompliance(
		t,
		func(func(func())) (agstore.RoundStateStore, error) {
			return agmemstore.NewRoundStateStore(), nil
		},
		agconsensustest.NewEd25519Fixture,
	)
}

func TestStatementStoreCompliance(t *testing.T) {
	t.Parallel()

	agstoretest.TestStatementStoreCompliance(
		t,
		func(func(func())) (agstore.StatementStore, error) {
			return agmemstore.NewStatementStore(), nil
		},
		agconsensustest.NewEd25519Fixture,
	)
}

func TestFinalizationStoreCompliance(t *testing.T) {
	t.Parallel()

	agstoretest.TestFinalizationStoreCompliance(
		t,
		func(func(func())) (agstore.FinalizationStore, error) {
			return agmemstore.NewFinalizationStore(), nil
		},
		agconsensustest.NewEd25519Fixture,
	)
}

func TestCandidateStoreCompliance(t *testing.T) {
	t.Parallel()

	agstoretest.TestCandidateStoreCompliance(
		t,
		func(func(func())) (agstore.CandidateStore, error) {
			return agmemstore.NewCandidateStore(), nil
		},
		agconsensustest.NewEd25519Fixture,
	)
}

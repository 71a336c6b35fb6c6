package agstoretest

import (
	"testing"

	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
)

// FixtureFactory is used in every store compliance test,
// to produce validators and signatures.
//
// [agconsensustest.NewEd25519Fixture] should be used by default,
// but having this as part of compliance test signatures
// makes it possible to assert that stores are compatible with other key schemes.
type FixtureFactory func(nVals int) *agconsensustest.Fixture

// StoreFactory creates a fresh, empty store.
// Any resources held by the store should be released
// by passing a function to cleanup.
type StoreFactory[S any] func(cleanup func(func())) (S, error)

func newStore[S any](t *testing.T, f StoreFactory[S]) S {
	t.Helper()
	s, err := f(t.Cleanup)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return s
}

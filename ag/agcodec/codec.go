// Package agcodec declares the codec used to move agreement values
// across the network and into storage.
package agcodec

import "github.com/gordian-engine/gagree/ag/agconsensus"

// Codec marshals and unmarshals the values exchanged with collaborators.
// Implementations must round-trip every field, including nil versus empty LockProof.
type Codec interface {
	MarshalStatement(agconsensus.SignedStatement) ([]byte, error)
	UnmarshalStatement([]byte, *agconsensus.SignedStatement) error

	MarshalJustification(agconsensus.Justification) ([]byte, error)
	UnmarshalJustification([]byte, *agconsensus.Justification) error

	MarshalRoundState(agconsensus.RoundState) ([]byte, error)
	UnmarshalRoundState([]byte, *agconsensus.RoundState) error

	MarshalCandidate(agconsensus.Candidate) ([]byte, error)
	UnmarshalCandidate([]byte, *agconsensus.Candidate) error
}

package agimport

import (
	"fmt"

	"github.com/gordian-engine/gagree/ag/agconsensus"
)

// Origin is where an imported candidate came from.
type Origin uint8

const (
	_ Origin = iota // Invalid.

	// The first candidate of a chain; its parent is not required to be known.
	OriginGenesis

	// Fetched while catching up to the network.
	OriginNetworkInitialSync

	// Received through network gossip.
	OriginNetworkBroadcast

	// Finalized by a local agreement session.
	OriginConsensusBroadcast

	// Produced by this node.
	OriginOwn

	// Read from a file, such as a chain export.
	OriginFile
)

func (o Origin) String() string {
	switch o {
	case OriginGenesis:
		return "Genesis"
	case OriginNetworkInitialSync:
		return "NetworkInitialSync"
	case OriginNetworkBroadcast:
		return "NetworkBroadcast"
	case OriginConsensusBroadcast:
		return "ConsensusBroadcast"
	case OriginOwn:
		return "Own"
	case OriginFile:
		return "File"
	default:
		return fmt.Sprintf("Origin(%d)", uint8(o))
	}
}

// notifies reports whether imports from o are sent to subscribers.
// Bulk imports during sync or from files are not.
func (o Origin) notifies() bool {
	switch o {
	case OriginNetworkBroadcast, OriginConsensusBroadcast, OriginOwn:
		return true
	default:
		return false
	}
}

// ImportResult is the outcome of [*Importer.Import].
type ImportResult uint8

const (
	_ ImportResult = iota // Invalid.

	ImportResultImported
	ImportResultAlreadyInChain
	ImportResultKnownBad
	ImportResultUnknownParent
)

func (r ImportResult) String() string {
	switch r {
	case ImportResultImported:
		return "Imported"
	case ImportResultAlreadyInChain:
		return "AlreadyInChain"
	case ImportResultKnownBad:
		return "KnownBad"
	case ImportResultUnknownParent:
		return "UnknownParent"
	default:
		return fmt.Sprintf("ImportResult(%d)", uint8(r))
	}
}

// CandidateStatus is the result of [*Importer.Status].
type CandidateStatus uint8

const (
	_ CandidateStatus = iota // Invalid.

	StatusInChain
	StatusKnownBad
	StatusUnknown
)

func (s CandidateStatus) String() string {
	switch s {
	case StatusInChain:
		return "InChain"
	case StatusKnownBad:
		return "KnownBad"
	case StatusUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("CandidateStatus(%d)", uint8(s))
	}
}

// ImportNotification is sent to subscribers for each notifying import.
type ImportNotification struct {
	Digest    agconsensus.Digest
	Origin    Origin
	Candidate agconsensus.JustifiedCandidate

	// Whether the candidate became the highest imported candidate.
	IsNewBest bool
}

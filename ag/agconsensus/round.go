package agconsensus

import (
	"fmt"
	"time"
)

// Phase is the engine's position within a round.
type Phase uint8

const (
	_ Phase = iota // Invalid.

	PhaseAwaitPropose
	PhasePrepare
	PhaseCommit
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitPropose:
		return "AwaitPropose"
	case PhasePrepare:
		return "Prepare"
	case PhaseCommit:
		return "Commit"
	case PhaseFinalized:
		return "Finalized"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// RoundState is the durable state of a session's engine.
type RoundState struct {
	Round uint64 `json:"round" cbor:"1,keyasint"`
	Phase Phase  `json:"phase" cbor:"2,keyasint"`

	// Locked is the candidate a Prepare quorum bound this node to,
	// or NIL when unlocked.
	Locked      Digest `json:"locked" cbor:"3,keyasint"`
	LockedRound uint64 `json:"locked_round" cbor:"4,keyasint"`

	// LockProof is the Prepare quorum that set Locked.
	LockProof *Justification `json:"lock_proof,omitempty" cbor:"5,keyasint,omitempty"`

	// Deadline of the running phase timer, by wall clock; informational only.
	// Timers are re-armed from the timeout strategy after a restart.
	Deadline time.Time `json:"deadline" cbor:"6,keyasint"`
}

// IsLocked reports whether a candidate is locked.
func (rs RoundState) IsLocked() bool {
	return !rs.Locked.IsNil()
}

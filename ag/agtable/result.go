package agtable

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/gagree/ag/agconsensus"
)

// Rejection reasons, reported in [AddResult.Reason].
var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrUnknownValidator   = errors.New("unknown validator")
	ErrStaleRound         = errors.New("stale round")
	ErrMalformedStatement = errors.New("malformed statement")
)

// Outcome is the classification of an added statement.
type Outcome uint8

const (
	_ Outcome = iota // Invalid.

	// The statement was new and is authoritative for its (validator, round, kind).
	OutcomeAccepted

	// An identical statement was already recorded; nothing changed.
	OutcomeDuplicate

	// The statement conflicts with the authoritative one.
	// It was recorded for audit but not counted.
	OutcomeEquivocation

	// The statement was not counted; see the Reason.
	// Stale statements are still recorded.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "Accepted"
	case OutcomeDuplicate:
		return "Duplicate"
	case OutcomeEquivocation:
		return "Equivocation"
	case OutcomeRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// AddResult is returned from adding a statement to a [Table].
type AddResult struct {
	Outcome Outcome

	// Reason is one of the package's Err values, possibly wrapped,
	// when Outcome is OutcomeRejected.
	Reason error

	// Equivocation is set only the first time a (validator, round, kind) is found equivocating.
	Equivocation *agconsensus.Equivocation
}

func (r AddResult) String() string {
	if r.Outcome == OutcomeRejected {
		return fmt.Sprintf("Rejected(%v)", r.Reason)
	}
	return r.Outcome.String()
}

func rejected(reason error) AddResult {
	return AddResult{Outcome: OutcomeRejected, Reason: reason}
}

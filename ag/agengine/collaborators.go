package agengine

import (
	"time"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agtable"
)

// MetricsCollector receives engine events for export.
// Methods are called from the kernel goroutine and must not block.
type MetricsCollector interface {
	StatementAdded(sid agconsensus.SessionID, kind agconsensus.StatementKind, outcome agtable.Outcome)
	RoundEntered(sid agconsensus.SessionID, round uint64, reason string)
	Finalized(sid agconsensus.SessionID, round uint64, sinceStart time.Duration)
}

// AbsentProposerObserver is told when a round ends
// without a proposal from its proposer.
// consecutive counts the proposer's absences since it last proposed.
//
// The engine does not act on absences itself;
// the surrounding system may use them to build an absent set
// for [agconsensus.NewDeprioritizing] in a later session.
type AbsentProposerObserver interface {
	OnAbsentProposer(sid agconsensus.SessionID, val uint32, round uint64, consecutive int)
}

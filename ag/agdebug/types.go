package agdebug

import (
	"time"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agengine"
	"github.com/gordian-engine/gagree/ag/agsession"
)

// SessionStatus is the JSON form of a running session's state.
type SessionStatus struct {
	ID   agconsensus.SessionID `json:"id"`
	Name string                `json:"name"`

	Validators  int    `json:"validators"`
	TotalWeight uint64 `json:"total_weight"`
	Quorum      uint64 `json:"quorum"`

	Round    uint64 `json:"round"`
	Phase    string `json:"phase"`
	Proposer uint32 `json:"proposer"`

	Locked      *agconsensus.Digest `json:"locked,omitempty"`
	LockedRound uint64              `json:"locked_round,omitempty"`

	Deadline time.Time `json:"deadline"`

	Statements    int `json:"statements"`
	Equivocations int `json:"equivocations"`

	Finalized *agconsensus.Digest `json:"finalized,omitempty"`
}

func newSessionStatus(s *agsession.Session, snap agengine.Snapshot) SessionStatus {
	vs := s.ValidatorSet()
	rs := snap.RoundState

	out := SessionStatus{
		ID:   s.ID(),
		Name: s.Name(),

		Validators:  vs.Len(),
		TotalWeight: vs.TotalWeight(),
		Quorum:      vs.Quorum(),

		Round:    rs.Round,
		Phase:    rs.Phase.String(),
		Proposer: snap.Proposer,

		Deadline: rs.Deadline,

		Statements:    snap.Statements,
		Equivocations: snap.Equivocations,
	}

	if rs.IsLocked() {
		d := rs.Locked
		out.Locked = &d
		out.LockedRound = rs.LockedRound
	}
	if snap.Finalized != nil {
		d := snap.Finalized.Justification.Digest
		out.Finalized = &d
	}

	return out
}

// StartRequest is the body of a session start request.
type StartRequest struct {
	Resume bool `json:"resume"`
}

// AddStatementResponse reports the outcome of a submitted statement.
type AddStatementResponse struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

type IncludableResponse struct {
	Includable bool `json:"includable"`
}

type CandidateStatusResponse struct {
	Status     string  `json:"status"`
	BestHeight *uint64 `json:"best_height,omitempty"`
}

// Package agstore declares the persistence interfaces used for crash recovery
// and for recording finalized candidates.
//
// Implementations live in agmemstore, agsqlite, and agpebble,
// and are all checked by the compliance suites in agstoretest.
package agstore

import (
	"context"
	"errors"

	"github.com/gordian-engine/gagree/ag/agconsensus"
)

// ErrNotFound is returned by Load methods when nothing was stored under the key.
var ErrNotFound = errors.New("not found")

// ErrStateLost indicates that persisted session state required to resume safely is missing.
// It is fatal to the session: resuming without it risks double-voting.
var ErrStateLost = errors.New("persisted session state lost")

// ErrConflict is returned when a write would overwrite different data
// at a position that is write-once.
var ErrConflict = errors.New("conflicting write")

// RoundStateStore persists the engine's [agconsensus.RoundState] for each session.
type RoundStateStore interface {
	SaveRoundState(ctx context.Context, sid agconsensus.SessionID, rs agconsensus.RoundState) error

	// LoadRoundState returns ErrNotFound if no state was saved for sid.
	LoadRoundState(ctx context.Context, sid agconsensus.SessionID) (agconsensus.RoundState, error)
}

// StatementStore persists a session's statement log.
type StatementStore interface {
	// AppendStatement stores s at position seq.
	// Appending the same statement at an existing position is a no-op;
	// a different statement at an existing position is ErrConflict.
	AppendStatement(ctx context.Context, sid agconsensus.SessionID, seq uint64, s agconsensus.SignedStatement) error

	// LoadStatements returns the log in position order.
	// An unknown session yields an empty slice and no error.
	LoadStatements(ctx context.Context, sid agconsensus.SessionID) ([]agconsensus.SignedStatement, error)
}

// FinalizationStore records the single finalization of each session.
type FinalizationStore interface {
	// SaveFinalization is write-once per session;
	// saving a different justification digest is ErrConflict.
	SaveFinalization(
		ctx context.Context,
		sid agconsensus.SessionID,
		c agconsensus.Candidate,
		j agconsensus.Justification,
	) error

	// LoadFinalization returns ErrNotFound if sid has not finalized.
	LoadFinalization(ctx context.Context, sid agconsensus.SessionID) (
		agconsensus.Candidate, agconsensus.Justification, error,
	)
}

// CandidateStore is the chain of imported, justified candidates.
type CandidateStore interface {
	// SaveCandidate stores jc, keyed by its candidate digest.
	// Saving an already-stored digest is a no-op.
	SaveCandidate(ctx context.Context, sid agconsensus.SessionID, jc agconsensus.JustifiedCandidate) error

	// LoadCandidate returns ErrNotFound for an unknown digest.
	LoadCandidate(ctx context.Context, d agconsensus.Digest) (agconsensus.SessionID, agconsensus.JustifiedCandidate, error)

	// LoadBest returns the stored candidate with the greatest height,
	// or ErrNotFound when empty.
	LoadBest(ctx context.Context) (agconsensus.JustifiedCandidate, error)

	SetKnownBad(ctx context.Context, d agconsensus.Digest) error
	IsKnownBad(ctx context.Context, d agconsensus.Digest) (bool, error)
}

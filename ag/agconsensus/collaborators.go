package agconsensus

import "context"

// ValidatorSetRegistry supplies the validator set snapshot for a session.
// It is consulted once, when the session starts.
type ValidatorSetRegistry interface {
	CurrentSnapshot(ctx context.Context, sid SessionID) (*ValidatorSet, error)
}

// Broadcaster sends the local node's statements to every peer in the session.
// Implementations must not block the caller for long;
// the engine calls Broadcast from its event loop.
type Broadcaster interface {
	Broadcast(ctx context.Context, s SignedStatement) error
}

// FinalizationHandler receives the single finalized candidate of a session.
//
// If the engine never learned the candidate's contents,
// only the Candidate's digest is known and its other fields are zero;
// the justification's Digest is always authoritative.
type FinalizationHandler interface {
	OnFinalized(ctx context.Context, c Candidate, j Justification)
}

// FinalizationHandlerFunc adapts a function to [FinalizationHandler].
type FinalizationHandlerFunc func(ctx context.Context, c Candidate, j Justification)

func (f FinalizationHandlerFunc) OnFinalized(ctx context.Context, c Candidate, j Justification) {
	f(ctx, c, j)
}

// EquivocationHandler is the audit and penalty collaborator.
// It is called once per (validator, round, kind) equivocation.
type EquivocationHandler interface {
	OnEquivocation(e Equivocation)
}

// EquivocationHandlerFunc adapts a function to [EquivocationHandler].
type EquivocationHandlerFunc func(Equivocation)

func (f EquivocationHandlerFunc) OnEquivocation(e Equivocation) {
	f(e)
}

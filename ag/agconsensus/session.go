package agconsensus

// SessionID identifies one consensus session:
// one epoch of a fixed validator set.
// All persisted state is keyed by it,
// and it is bound into every signature so statements cannot be replayed across sessions.
type SessionID string

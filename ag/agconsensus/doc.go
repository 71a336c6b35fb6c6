// Package agconsensus holds the data model shared by every part of the agreement system:
// candidates, signed statements, validator set snapshots, justifications,
// round state, proposer selection,
// and the interfaces of the collaborators outside the engine.
//
// Values in this package are either immutable after construction
// ([ValidatorSet], [Candidate], [Justification] once built)
// or plain data copied between goroutines.
package agconsensus

// Package agengine contains the agreement engine:
// the per-session state machine that moves through
// AwaitPropose, Prepare, Commit, and Finalized,
// changing rounds on timeouts, NIL or tied quorums, and proposer equivocation.
//
// All engine state is owned by a single kernel goroutine.
// Inbound statements are verified on a worker pool first,
// and only the verified results are queued to the kernel;
// results for rounds the kernel has already left are discarded there.
//
// Create an Engine with [New]. To tear a session down,
// cancel the context passed to New and call [*Engine.Wait].
package agengine

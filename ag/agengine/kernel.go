package agengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/trace"
	"time"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agstore"
	"github.com/gordian-engine/gagree/ag/agtable"
	"github.com/gordian-engine/gagree/gcrypto"
)

// kernel owns all mutable session state.
// Only the kernel goroutine may touch its fields after init.
type kernel struct {
	log *slog.Logger

	sid   agconsensus.SessionID
	vs    *agconsensus.ValidatorSet
	table *agtable.Table

	signer gcrypto.Signer
	ownIdx int // -1 for observers.

	bc agconsensus.Broadcaster
	fh agconsensus.FinalizationHandler

	rsStore   agstore.RoundStateStore
	stmtStore agstore.StatementStore
	finStore  agstore.FinalizationStore

	rt       RoundTimer
	ts       TimeoutStrategy
	selector agconsensus.ProposerSelector

	metrics   MetricsCollector
	absentObs AbsentProposerObserver

	rs       agconsensus.RoundState
	proposer uint32
	started  time.Time

	// Table entries before persisted are in the statement log,
	// and nextSeq is the next free log position.
	persisted int
	nextSeq   uint64

	// Candidate bodies learned through SubmitCandidate.
	candidates map[agconsensus.Digest]agconsensus.Candidate
	local      *agconsensus.Candidate

	// Verified lock proofs carried on RoundChange statements, highest round per digest.
	pols map[agconsensus.Digest]agconsensus.Justification

	// Rounds above the current one that have counted statements.
	futureRounds map[uint64]struct{}

	absentStreak map[uint32]int

	finalized *agconsensus.JustifiedCandidate

	timerC      <-chan struct{}
	cancelTimer func()

	// Own statements waiting to be broadcast once the current event is fully persisted.
	outbox []agconsensus.SignedStatement

	addRequests        <-chan addRequest
	candidateRequests  <-chan candidateRequest
	includableRequests <-chan includableRequest
	snapshotRequests   <-chan snapshotRequest

	done chan struct{}
}

func (k *kernel) Wait() {
	<-k.done
}

func (k *kernel) run(ctx context.Context) {
	defer close(k.done)

	ctx, task := trace.NewTask(ctx, "agengine.kernel")
	defer task.End()

	for {
		if !k.handleEvent(ctx) {
			return
		}
	}
}

func (k *kernel) handleEvent(ctx context.Context) (ok bool) {
	defer trace.StartRegion(ctx, "handleEvent").End()

	select {
	case <-ctx.Done():
		k.log.Info(
			"Quitting due to context cancellation in kernel main loop",
			"cause", context.Cause(ctx),
			"r", k.rs.Round, "phase", k.rs.Phase,
		)
		k.stopTimer()
		return false

	case req := <-k.addRequests:
		res := k.addVerified(ctx, req.V)
		k.advance(ctx)
		k.flush(ctx)
		req.Resp <- res

	case req := <-k.candidateRequests:
		k.addCandidate(ctx, req.C)
		k.advance(ctx)
		k.flush(ctx)
		close(req.Resp)

	case req := <-k.includableRequests:
		req.Resp <- k.table.IsIncludable(req.D)

	case req := <-k.snapshotRequests:
		req.Resp <- k.snapshot()

	case <-k.timerC:
		k.timerC = nil
		k.cancelTimer = nil
		k.handleTimeout(ctx)
		k.advance(ctx)
		k.flush(ctx)
	}

	return true
}

// addVerified applies a verified inbound statement.
func (k *kernel) addVerified(ctx context.Context, v agtable.Verified) agtable.AddResult {
	s := v.Statement()

	var res agtable.AddResult
	if k.isStale(s) {
		// Kept for audit, but passed rounds drive no transitions.
		res = k.table.Record(v, agtable.ErrStaleRound)
		if res.Outcome == agtable.OutcomeRejected {
			k.log.Debug(
				"Recorded statement for passed round",
				"val", s.ValidatorIndex, "r", s.Round, "kind", s.Kind, "cur_r", k.rs.Round,
			)
		}
	} else {
		res = k.table.AddVerified(v)
	}
	k.persistLog(ctx)
	k.observeStatement(s.Kind, res.Outcome)

	switch res.Outcome {
	case agtable.OutcomeAccepted:
		k.noteAccepted(s)
		if s.Kind == agconsensus.StatementCommit {
			k.checkCommitQuorum(ctx, s.Round)
		}

	case agtable.OutcomeDuplicate:
		// A copy may carry the lock proof an earlier copy lacked.
		k.noteLockProof(s)

	case agtable.OutcomeEquivocation:
		if res.Equivocation != nil {
			k.handleEquivocation(ctx, *res.Equivocation)
		}
	}

	return res
}

// isStale reports whether s belongs to a round the kernel has passed.
// Commits are never stale before finalization,
// because a commit quorum from an earlier round still finalizes.
func (k *kernel) isStale(s agconsensus.SignedStatement) bool {
	if k.rs.Phase == agconsensus.PhaseFinalized {
		return false
	}
	return s.Round < k.rs.Round && s.Kind != agconsensus.StatementCommit
}

// noteAccepted updates the kernel's indices for a newly counted statement.
func (k *kernel) noteAccepted(s agconsensus.SignedStatement) {
	if s.Round > k.rs.Round {
		k.futureRounds[s.Round] = struct{}{}
	}

	k.noteLockProof(s)
}

// noteLockProof remembers the lock proof carried on a RoundChange.
// The proof was verified along with the statement's signature.
func (k *kernel) noteLockProof(s agconsensus.SignedStatement) {
	if s.Kind != agconsensus.StatementRoundChange || s.LockProof == nil {
		return
	}
	have, ok := k.pols[s.LockProof.Digest]
	if !ok || have.Round < s.LockProof.Round {
		k.pols[s.LockProof.Digest] = s.LockProof.Clone()
	}
}

func (k *kernel) handleEquivocation(ctx context.Context, e agconsensus.Equivocation) {
	if e.Kind != agconsensus.StatementPropose ||
		e.Round != k.rs.Round ||
		e.ValidatorIndex != k.proposer {
		return
	}

	switch k.rs.Phase {
	case agconsensus.PhaseAwaitPropose, agconsensus.PhasePrepare:
		k.roundChange(ctx, "proposer equivocation")
	}
}

func (k *kernel) addCandidate(ctx context.Context, c agconsensus.Candidate) {
	d := c.Digest()
	k.candidates[d] = c

	if int(c.ProposerIndex) == k.ownIdx {
		k.local = &c
		k.maybePropose(ctx)
	}

	if k.finalized != nil && k.finalized.Justification.Digest == d && k.finalized.Candidate.Digest() != d {
		// The body arrived after finalization; keep it for snapshots.
		k.finalized.Candidate = c
	}
}

func (k *kernel) handleTimeout(ctx context.Context) {
	r := k.rs.Round
	switch k.rs.Phase {
	case agconsensus.PhaseAwaitPropose:
		k.log.Info("Propose timeout elapsed; preparing NIL", "r", r, "proposer", k.proposer)
		k.enterPrepare(ctx, agconsensus.NilDigest)
	case agconsensus.PhasePrepare:
		k.roundChange(ctx, "prepare timeout")
	case agconsensus.PhaseCommit:
		k.roundChange(ctx, "commit timeout")
	default:
		k.log.Warn("Ignoring timer in unexpected phase", "r", r, "phase", k.rs.Phase)
	}
}

// advance applies every transition the table currently supports.
func (k *kernel) advance(ctx context.Context) {
	defer trace.StartRegion(ctx, "advance").End()

	for k.rs.Phase != agconsensus.PhaseFinalized {
		if k.skipRounds(ctx) {
			continue
		}
		if !k.step(ctx) {
			return
		}
	}
}

// skipRounds jumps ahead on a RoundChange quorum at or above the current round,
// or on more than the fault weight of validators active in a future round.
func (k *kernel) skipRounds(ctx context.Context) bool {
	cur := k.rs.Round
	target := cur
	reason := ""

	if k.table.KindWeight(cur, agconsensus.StatementRoundChange) >= k.vs.Quorum() {
		target = cur + 1
		reason = "round change quorum"
	}

	for r := range k.futureRounds {
		if r <= cur {
			continue
		}
		if k.table.KindWeight(r, agconsensus.StatementRoundChange) >= k.vs.Quorum() && r+1 > target {
			target = r + 1
			reason = "round change quorum"
		}
		if k.table.RoundWeight(r) > k.vs.FaultWeight() && r > target {
			target = r
			reason = "future round activity"
		}
	}

	if target == cur {
		return false
	}

	k.enterRound(ctx, target, reason)
	return true
}

// step applies at most one transition within the current round,
// reporting whether anything changed.
func (k *kernel) step(ctx context.Context) bool {
	r := k.rs.Round

	if k.checkCommitQuorum(ctx, r) {
		return true
	}

	switch k.rs.Phase {
	case agconsensus.PhaseAwaitPropose:
		d, ok := k.prepareTarget()
		if !ok {
			return false
		}
		k.enterPrepare(ctx, d)
		return true

	case agconsensus.PhasePrepare:
		qd := k.table.QuorumDigests(r, agconsensus.StatementPrepare)
		switch len(qd) {
		case 0:
			return false
		case 1:
			if qd[0].IsNil() {
				k.roundChange(ctx, "NIL prepare quorum")
			} else {
				k.enterCommit(ctx, qd[0])
			}
			return true
		default:
			k.log.Warn("Multiple prepare quorums; forcing round change", "r", r, "n", len(qd))
			k.roundChange(ctx, "tied prepare quorums")
			return true
		}

	case agconsensus.PhaseCommit:
		// Finalization is the only way forward from here, checked above.
		return false

	default:
		panic(fmt.Errorf("BUG: unhandled phase %s", k.rs.Phase))
	}
}

// prepareTarget decides the Prepare vote for the current round,
// reporting false if there is nothing to vote on yet.
func (k *kernel) prepareTarget() (agconsensus.Digest, bool) {
	r := k.rs.Round

	// A prepare quorum in this round is its own proof of lock change.
	if qd := k.table.QuorumDigests(r, agconsensus.StatementPrepare); len(qd) > 0 {
		if len(qd) == 1 {
			return qd[0], true
		}
		return agconsensus.NilDigest, true
	}

	p, ok := k.table.Authoritative(k.proposer, r, agconsensus.StatementPropose)
	if !ok {
		return agconsensus.Digest{}, false
	}

	d := p.Digest
	if !k.rs.IsLocked() || k.rs.Locked == d || k.hasPOL(d, r) {
		return d, true
	}

	k.log.Info(
		"Proposal conflicts with lock; preparing NIL",
		"r", r, "digest", d.Short(), "locked", k.rs.Locked.Short(), "locked_r", k.rs.LockedRound,
	)
	return agconsensus.NilDigest, true
}

// hasPOL reports whether a prepare quorum for d exists
// in a round after the lock and before round r.
func (k *kernel) hasPOL(d agconsensus.Digest, r uint64) bool {
	if j, ok := k.pols[d]; ok && j.Round > k.rs.LockedRound && j.Round < r {
		return true
	}

	for pr := k.rs.LockedRound + 1; pr < r; pr++ {
		if k.table.HasQuorum(pr, agconsensus.StatementPrepare, d) {
			return true
		}
	}
	return false
}

// checkCommitQuorum finalizes if round has a commit quorum on a single candidate.
func (k *kernel) checkCommitQuorum(ctx context.Context, round uint64) bool {
	if k.rs.Phase == agconsensus.PhaseFinalized {
		return false
	}

	var found []agconsensus.Digest
	for _, d := range k.table.QuorumDigests(round, agconsensus.StatementCommit) {
		if !d.IsNil() {
			found = append(found, d)
		}
	}

	switch len(found) {
	case 0:
		return false
	case 1:
		return k.finalize(ctx, round, found[0], true)
	default:
		k.log.Error(
			"Conflicting commit quorums; fault assumption violated, refusing to finalize",
			"r", round, "n", len(found),
		)
		if round == k.rs.Round {
			k.roundChange(ctx, "tied commit quorums")
			return true
		}
		return false
	}
}

func (k *kernel) enterRound(ctx context.Context, round uint64, reason string) {
	prev := k.rs.Round
	if k.rs.Phase != 0 {
		k.noteRoundEnd(prev)
	}

	k.stopTimer()

	k.rs.Round = round
	k.rs.Phase = agconsensus.PhaseAwaitPropose
	k.rs.Deadline = time.Now().Add(k.ts.ProposeTimeout(round))
	k.proposer = k.selector.Proposer(k.sid, k.vs, round)

	for r := range k.futureRounds {
		if r <= round {
			delete(k.futureRounds, r)
		}
	}

	k.log.Info(
		"Entering round",
		"r", round, "prev_r", prev, "reason", reason, "proposer", k.proposer,
		"locked", k.rs.Locked.Short(),
	)
	if k.metrics != nil {
		k.metrics.RoundEntered(k.sid, round, reason)
	}

	saved := k.saveRoundState(ctx)

	k.timerC, k.cancelTimer = k.rt.ProposeTimer(ctx, round)

	if saved {
		k.maybePropose(ctx)
	}
}

// noteRoundEnd tracks consecutive proposer absences.
func (k *kernel) noteRoundEnd(round uint64) {
	if _, ok := k.table.Authoritative(k.proposer, round, agconsensus.StatementPropose); ok {
		delete(k.absentStreak, k.proposer)
		return
	}

	k.absentStreak[k.proposer]++
	n := k.absentStreak[k.proposer]
	k.log.Debug("Round ended without proposal", "r", round, "proposer", k.proposer, "consecutive", n)
	if k.absentObs != nil {
		k.absentObs.OnAbsentProposer(k.sid, k.proposer, round, n)
	}
}

// maybePropose signs a proposal when this node is the current round's proposer.
// A locked candidate is re-proposed; otherwise the local candidate, once submitted.
func (k *kernel) maybePropose(ctx context.Context) {
	if k.ownIdx < 0 || k.rs.Phase != agconsensus.PhaseAwaitPropose || k.proposer != uint32(k.ownIdx) {
		return
	}

	var d agconsensus.Digest
	switch {
	case k.rs.IsLocked():
		d = k.rs.Locked
	case k.local != nil:
		d = k.local.Digest()
	default:
		k.log.Debug("Proposer waiting for local candidate", "r", k.rs.Round)
		return
	}

	if s, ok := k.ownStatement(ctx, agconsensus.StatementPropose, d, nil); ok {
		k.log.Info("Proposing", "r", k.rs.Round, "digest", s.Digest.Short())
		k.outbox = append(k.outbox, s)
	}
}

func (k *kernel) enterPrepare(ctx context.Context, d agconsensus.Digest) {
	r := k.rs.Round

	k.stopTimer()
	k.rs.Phase = agconsensus.PhasePrepare
	k.rs.Deadline = time.Now().Add(k.ts.PrepareTimeout(r))

	saved := k.saveRoundState(ctx)
	k.timerC, k.cancelTimer = k.rt.PrepareTimer(ctx, r)

	if !saved {
		return
	}
	if s, ok := k.ownStatement(ctx, agconsensus.StatementPrepare, d, nil); ok {
		k.log.Info("Preparing", "r", r, "digest", s.Digest.Short())
		k.outbox = append(k.outbox, s)
	}
}

func (k *kernel) enterCommit(ctx context.Context, d agconsensus.Digest) {
	r := k.rs.Round

	k.stopTimer()

	proof, ok := k.table.CertificateFor(agconsensus.StatementPrepare, r, d)
	if !ok {
		panic(fmt.Errorf("BUG: prepare quorum for %s in round %d did not yield a certificate", d, r))
	}

	if k.rs.IsLocked() && k.rs.Locked != d {
		k.log.Info(
			"Moving lock on prepare quorum",
			"r", r, "from", k.rs.Locked.Short(), "from_r", k.rs.LockedRound, "to", d.Short(),
		)
	}

	k.rs.Phase = agconsensus.PhaseCommit
	k.rs.Locked = d
	k.rs.LockedRound = r
	k.rs.LockProof = &proof
	k.rs.Deadline = time.Now().Add(k.ts.CommitTimeout(r))

	saved := k.saveRoundState(ctx)
	k.timerC, k.cancelTimer = k.rt.CommitTimer(ctx, r)

	if !saved {
		return
	}
	if s, ok := k.ownStatement(ctx, agconsensus.StatementCommit, d, nil); ok {
		k.log.Info("Committing", "r", r, "digest", d.Short())
		k.outbox = append(k.outbox, s)
	}
}

// roundChange announces leaving the current round and enters the next one.
func (k *kernel) roundChange(ctx context.Context, reason string) {
	r := k.rs.Round

	s, ok := k.ownStatement(ctx, agconsensus.StatementRoundChange, k.rs.Locked, k.rs.LockProof)

	k.enterRound(ctx, r+1, reason)

	if ok {
		// Queued after enterRound persisted the new round,
		// but ahead of any proposal enterRound produced.
		k.outbox = append([]agconsensus.SignedStatement{s}, k.outbox...)
	}
}

// finalize records the decision for (round, d).
// When notify is false the decision is only restored, without calling the handler.
func (k *kernel) finalize(ctx context.Context, round uint64, d agconsensus.Digest, notify bool) bool {
	j, ok := k.table.JustificationFor(round, d)
	if !ok {
		panic(fmt.Errorf("BUG: commit quorum for %s in round %d did not yield a justification", d, round))
	}

	k.stopTimer()
	k.table.SetFinalizedRound(round)
	k.rs.Phase = agconsensus.PhaseFinalized

	c := k.candidates[d]
	k.finalized = &agconsensus.JustifiedCandidate{Candidate: c, Justification: j}

	if !notify {
		return true
	}

	// Resume restores a persisted Finalized phase without calling the handler again.
	if !k.saveRoundState(ctx) {
		k.log.Error(
			"Finalized phase not persisted; a restart may report this finalization again",
			"r", round, "digest", d.Short(),
		)
	}

	if k.finStore != nil {
		if err := k.finStore.SaveFinalization(ctx, k.sid, c, j); err != nil {
			k.log.Error("Failed to save finalization", "r", round, "digest", d.Short(), "err", err)
		}
	}

	k.log.Info(
		"Finalized",
		"r", round, "cur_r", k.rs.Round, "digest", d.Short(),
		"signatures", len(j.Signatures), "body_known", c.Digest() == d,
	)
	if k.metrics != nil {
		k.metrics.Finalized(k.sid, round, time.Since(k.started))
	}

	k.fh.OnFinalized(ctx, c, j)
	return true
}

// ownStatement returns this node's statement for (current round, kind).
// An existing statement is returned as is, never re-signed,
// so a resumed node cannot contradict its earlier vote.
// A new statement is signed, counted, and durably logged before it is returned.
func (k *kernel) ownStatement(
	ctx context.Context,
	kind agconsensus.StatementKind,
	d agconsensus.Digest,
	lockProof *agconsensus.Justification,
) (agconsensus.SignedStatement, bool) {
	if k.ownIdx < 0 {
		return agconsensus.SignedStatement{}, false
	}

	r := k.rs.Round
	if s, ok := k.table.Authoritative(uint32(k.ownIdx), r, kind); ok {
		if s.Digest != d {
			k.log.Warn(
				"Keeping earlier statement instead of signing a different one",
				"r", r, "kind", kind, "have", s.Digest.Short(), "want", d.Short(),
			)
		}
		return s, true
	}

	st := agconsensus.Statement{
		Kind:           kind,
		Round:          r,
		Digest:         d,
		ValidatorIndex: uint32(k.ownIdx),
	}
	sig, err := k.signer.Sign(ctx, agconsensus.SignBytes(k.sid, st))
	if err != nil {
		k.log.Error("Failed to sign statement", "r", r, "kind", kind, "err", err)
		return agconsensus.SignedStatement{}, false
	}

	s := agconsensus.SignedStatement{Statement: st, Signature: sig}
	if kind == agconsensus.StatementRoundChange && lockProof != nil {
		p := lockProof.Clone()
		s.LockProof = &p
	}

	res := k.table.AddStatement(s)
	if res.Outcome != agtable.OutcomeAccepted {
		k.log.Error("Own statement not accepted by table", "r", r, "kind", kind, "result", res)
		return agconsensus.SignedStatement{}, false
	}

	if !k.persistLog(ctx) {
		k.log.Error("Withholding own statement that could not be logged", "r", r, "kind", kind)
		return agconsensus.SignedStatement{}, false
	}

	return s, true
}

// persistLog appends every table entry not yet in the statement log.
func (k *kernel) persistLog(ctx context.Context) bool {
	entries := k.table.Entries()
	for k.persisted < len(entries) {
		if err := k.stmtStore.AppendStatement(ctx, k.sid, k.nextSeq, entries[k.persisted].Statement); err != nil {
			k.log.Error("Failed to append statement to log", "seq", k.nextSeq, "err", err)
			return false
		}
		k.persisted++
		k.nextSeq++
	}
	return true
}

func (k *kernel) saveRoundState(ctx context.Context) bool {
	if err := k.rsStore.SaveRoundState(ctx, k.sid, k.rs); err != nil {
		k.log.Error(
			"Failed to save round state; not voting",
			"r", k.rs.Round, "phase", k.rs.Phase, "err", err,
		)
		return false
	}
	return true
}

// flush broadcasts the statements queued during the current event.
func (k *kernel) flush(ctx context.Context) {
	for _, s := range k.outbox {
		if err := k.bc.Broadcast(ctx, s); err != nil {
			k.log.Warn("Failed to broadcast statement", "r", s.Round, "kind", s.Kind, "err", err)
		}
	}
	clear(k.outbox)
	k.outbox = k.outbox[:0]
}

func (k *kernel) stopTimer() {
	if k.cancelTimer != nil {
		k.cancelTimer()
	}
	k.timerC = nil
	k.cancelTimer = nil
}

func (k *kernel) observeStatement(kind agconsensus.StatementKind, o agtable.Outcome) {
	if k.metrics != nil {
		k.metrics.StatementAdded(k.sid, kind, o)
	}
}

func (k *kernel) snapshot() Snapshot {
	s := Snapshot{
		SessionID:     k.sid,
		RoundState:    k.rs,
		Proposer:      k.proposer,
		Statements:    k.table.Len(),
		Equivocations: len(k.table.Equivocations()),
	}
	if s.RoundState.LockProof != nil {
		p := s.RoundState.LockProof.Clone()
		s.RoundState.LockProof = &p
	}
	if k.finalized != nil {
		jc := *k.finalized
		jc.Justification = jc.Justification.Clone()
		s.Finalized = &jc
	}
	return s
}

// init restores persisted state or starts round 0.
func (k *kernel) init(ctx context.Context, resume bool) error {
	rs, err := k.rsStore.LoadRoundState(ctx, k.sid)
	missing := errors.Is(err, agstore.ErrNotFound)
	if err != nil && !missing {
		return fmt.Errorf("loading round state: %w", err)
	}

	stmts, err := k.stmtStore.LoadStatements(ctx, k.sid)
	if err != nil {
		return fmt.Errorf("loading statement log: %w", err)
	}

	if missing {
		if resume || len(stmts) > 0 {
			return fmt.Errorf(
				"session %q has no persisted round state (%d logged statements): %w",
				k.sid, len(stmts), agstore.ErrStateLost,
			)
		}

		k.enterRound(ctx, 0, "session start")
		k.advance(ctx)
		k.flush(ctx)
		return nil
	}

	return k.resume(ctx, rs, stmts)
}

func (k *kernel) resume(ctx context.Context, rs agconsensus.RoundState, stmts []agconsensus.SignedStatement) error {
	k.rs = rs
	k.proposer = k.selector.Proposer(k.sid, k.vs, rs.Round)

	commitRounds := make(map[uint64]struct{})
	for i, s := range stmts {
		res := k.table.AddStatement(s)
		switch res.Outcome {
		case agtable.OutcomeAccepted:
			k.noteAccepted(s)
			if s.Kind == agconsensus.StatementCommit {
				commitRounds[s.Round] = struct{}{}
			}
		case agtable.OutcomeRejected:
			k.log.Warn("Logged statement rejected on replay", "seq", i, "reason", res.Reason)
		}
	}
	k.persisted = k.table.Len()
	k.nextSeq = uint64(len(stmts))

	var saved *agconsensus.Justification
	if k.finStore != nil {
		c, j, err := k.finStore.LoadFinalization(ctx, k.sid)
		switch {
		case err == nil:
			k.candidates[j.Digest] = c
			saved = &j
		case !errors.Is(err, agstore.ErrNotFound):
			return fmt.Errorf("loading finalization: %w", err)
		}
	}

	k.log.Info(
		"Resuming session",
		"r", rs.Round, "phase", rs.Phase, "locked", rs.Locked.Short(),
		"statements", len(stmts),
	)

	if rs.Phase == agconsensus.PhaseFinalized {
		// Restore the decision quietly; the handler already saw it.
		for r := range commitRounds {
			if k.restoreFinalization(ctx, r) {
				return nil
			}
		}
		return fmt.Errorf(
			"session %q is marked finalized but no commit quorum was logged: %w",
			k.sid, agstore.ErrStateLost,
		)
	}

	if saved != nil && k.table.HasQuorum(saved.Round, agconsensus.StatementCommit, saved.Digest) {
		// The finalization was recorded but the Finalized phase was not.
		k.log.Warn(
			"Restoring finalization missing from round state",
			"r", saved.Round, "digest", saved.Digest.Short(),
		)
		k.finalize(ctx, saved.Round, saved.Digest, false)
		k.saveRoundState(ctx)
		return nil
	}

	switch rs.Phase {
	case agconsensus.PhaseAwaitPropose:
		k.timerC, k.cancelTimer = k.rt.ProposeTimer(ctx, rs.Round)
	case agconsensus.PhasePrepare:
		k.timerC, k.cancelTimer = k.rt.PrepareTimer(ctx, rs.Round)
	case agconsensus.PhaseCommit:
		k.timerC, k.cancelTimer = k.rt.CommitTimer(ctx, rs.Round)
	default:
		return fmt.Errorf("persisted round state has invalid phase %s", rs.Phase)
	}

	// Re-announce what this node already said; nothing is re-signed.
	if k.ownIdx >= 0 {
		own := uint32(k.ownIdx)
		if rs.Round > 0 {
			if s, ok := k.table.Authoritative(own, rs.Round-1, agconsensus.StatementRoundChange); ok {
				k.outbox = append(k.outbox, s)
			}
		}
		for _, kind := range []agconsensus.StatementKind{
			agconsensus.StatementPropose,
			agconsensus.StatementPrepare,
			agconsensus.StatementCommit,
		} {
			if s, ok := k.table.Authoritative(own, rs.Round, kind); ok {
				k.outbox = append(k.outbox, s)
			}
		}
	}

	for r := range commitRounds {
		if k.checkCommitQuorum(ctx, r) {
			break
		}
	}

	k.advance(ctx)
	k.flush(ctx)
	return nil
}

func (k *kernel) restoreFinalization(ctx context.Context, round uint64) bool {
	for _, d := range k.table.QuorumDigests(round, agconsensus.StatementCommit) {
		if !d.IsNil() {
			return k.finalize(ctx, round, d, false)
		}
	}
	return false
}

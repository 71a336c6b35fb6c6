package agtable

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agjustify"
)

// Table is the statement table for a single session.
//
// [Table.Check] only reads immutable session data and is safe to call concurrently.
// Every other method must be serialized by the table's owner,
// which in practice is the engine's event loop.
type Table struct {
	log *slog.Logger

	sid agconsensus.SessionID
	vs  *agconsensus.ValidatorSet

	onEquivocation agconsensus.EquivocationHandler

	entries []Entry

	slots map[slotKey]*slot

	// Weight of authoritative statements per (round, kind, digest).
	tallies map[tallyKey]uint64

	// Entry indices of authoritative counted statements per (round, kind, digest),
	// in arrival order, for justification building.
	voters map[tallyKey][]int

	// Weight of authoritative statements per (round, kind), over all digests.
	kindWeight map[roundKind]uint64

	// Digests that crossed the quorum threshold per (round, kind), in crossing order.
	quorums map[roundKind][]agconsensus.Digest

	// Distinct validators with any counted statement in a round, and their weight.
	roundVoters map[uint64]*bitset.BitSet
	roundWeight map[uint64]uint64

	includable map[agconsensus.Digest]struct{}

	equivocations []agconsensus.Equivocation

	hasFinalizedRound bool
	finalizedRound    uint64
}

// Entry is one record in the table's log.
type Entry struct {
	Statement agconsensus.SignedStatement

	// Counted reports whether the statement contributed to tallies.
	// Equivocating and stale statements are recorded but not counted.
	Counted bool
}

type slotKey struct {
	val   uint32
	round uint64
	kind  agconsensus.StatementKind
}

type slot struct {
	// Entry index of the authoritative statement, or -1 if only uncounted statements exist.
	first int

	// Entry index of the first statement recorded at this slot, counted or not.
	seen int

	// Every distinct digest recorded at this slot.
	digests []agconsensus.Digest

	flagged bool
}

type tallyKey struct {
	round  uint64
	kind   agconsensus.StatementKind
	digest agconsensus.Digest
}

type roundKind struct {
	round uint64
	kind  agconsensus.StatementKind
}

// Opt customizes a [Table].
type Opt func(*Table)

// WithEquivocationHandler sets the audit collaborator notified of each new equivocation.
func WithEquivocationHandler(h agconsensus.EquivocationHandler) Opt {
	return func(t *Table) {
		t.onEquivocation = h
	}
}

// New returns an empty table for session sid with validator set vs.
func New(log *slog.Logger, sid agconsensus.SessionID, vs *agconsensus.ValidatorSet, opts ...Opt) *Table {
	t := &Table{
		log: log,

		sid: sid,
		vs:  vs,

		slots:       make(map[slotKey]*slot),
		tallies:     make(map[tallyKey]uint64),
		voters:      make(map[tallyKey][]int),
		kindWeight:  make(map[roundKind]uint64),
		quorums:     make(map[roundKind][]agconsensus.Digest),
		roundVoters: make(map[uint64]*bitset.BitSet),
		roundWeight: make(map[uint64]uint64),
		includable:  make(map[agconsensus.Digest]struct{}),
	}

	for _, o := range opts {
		o(t)
	}

	return t
}

// Verified is a statement whose structure and signature have been checked
// against a table's session. Obtain one from [Table.Check].
type Verified struct {
	s agconsensus.SignedStatement

	sid        agconsensus.SessionID
	pubKeyHash string
}

// Statement returns the verified statement.
func (v Verified) Statement() agconsensus.SignedStatement {
	return v.s
}

// Check validates s against the session's validator set without modifying the table.
// The error is one of ErrMalformedStatement, ErrUnknownValidator, or ErrInvalidSignature.
func (t *Table) Check(s agconsensus.SignedStatement) (Verified, error) {
	if err := s.Malformed(); err != nil {
		return Verified{}, fmt.Errorf("%w: %v", ErrMalformedStatement, err)
	}

	v, ok := t.vs.Validator(s.ValidatorIndex)
	if !ok {
		return Verified{}, fmt.Errorf(
			"%w: index %d with %d validators", ErrUnknownValidator, s.ValidatorIndex, t.vs.Len(),
		)
	}

	if !v.PubKey.Verify(agconsensus.SignBytes(t.sid, s.Statement), s.Signature) {
		return Verified{}, ErrInvalidSignature
	}

	return Verified{
		s:          s,
		sid:        t.sid,
		pubKeyHash: t.vs.PubKeyHash(),
	}, nil
}

// AddStatement checks s and adds it.
func (t *Table) AddStatement(s agconsensus.SignedStatement) AddResult {
	v, err := t.Check(s)
	if err != nil {
		return rejected(err)
	}
	return t.AddVerified(v)
}

// AddVerified adds a statement previously returned from [Table.Check].
func (t *Table) AddVerified(v Verified) AddResult {
	if v.sid != t.sid || v.pubKeyHash != t.vs.PubKeyHash() {
		// Zero value, or checked by a different session's table.
		return rejected(fmt.Errorf("%w: not verified for this session", ErrMalformedStatement))
	}

	s := v.s
	key := slotKey{val: s.ValidatorIndex, round: s.Round, kind: s.Kind}
	sl := t.slots[key]

	if sl != nil && slices.Contains(sl.digests, s.Digest) {
		if t.isStale(s.Round) {
			return rejected(ErrStaleRound)
		}
		t.attachLockProof(sl, s)
		return AddResult{Outcome: OutcomeDuplicate}
	}

	if t.isStale(s.Round) {
		t.log.Debug(
			"Recording stale statement",
			"val", s.ValidatorIndex, "r", s.Round, "kind", s.Kind, "finalized_r", t.finalizedRound,
		)
		return t.record(key, sl, s, ErrStaleRound)
	}

	if sl == nil || sl.first < 0 {
		// Authoritative statement.
		idx := len(t.entries)
		t.entries = append(t.entries, Entry{Statement: s, Counted: true})

		if sl == nil {
			sl = &slot{seen: idx}
			t.slots[key] = sl
		}
		sl.first = idx
		sl.digests = append(sl.digests, s.Digest)

		t.count(idx, s)
		return AddResult{Outcome: OutcomeAccepted}
	}

	// Conflicting digest for an occupied slot.
	t.entries = append(t.entries, Entry{Statement: s})
	sl.digests = append(sl.digests, s.Digest)
	return t.flag(sl, s)
}

// Record logs a verified statement without counting it toward any tally.
// The owner uses it for statements it will not act on, such as those for passed rounds.
//
// A digest conflicting with one already recorded at the same (validator, round, kind)
// is still flagged as an equivocation.
// Otherwise the outcome is Duplicate for a copy of the authoritative statement
// and Rejected with reason for anything else.
func (t *Table) Record(v Verified, reason error) AddResult {
	if v.sid != t.sid || v.pubKeyHash != t.vs.PubKeyHash() {
		return rejected(fmt.Errorf("%w: not verified for this session", ErrMalformedStatement))
	}

	s := v.s
	key := slotKey{val: s.ValidatorIndex, round: s.Round, kind: s.Kind}
	sl := t.slots[key]

	if sl != nil && slices.Contains(sl.digests, s.Digest) {
		if sl.first >= 0 && t.entries[sl.first].Statement.Digest == s.Digest {
			t.attachLockProof(sl, s)
			return AddResult{Outcome: OutcomeDuplicate}
		}
		return rejected(reason)
	}

	return t.record(key, sl, s, reason)
}

// record appends s uncounted, flagging a conflict with an earlier digest at the slot.
func (t *Table) record(key slotKey, sl *slot, s agconsensus.SignedStatement, reason error) AddResult {
	idx := len(t.entries)
	t.entries = append(t.entries, Entry{Statement: s})

	if sl == nil {
		t.slots[key] = &slot{first: -1, seen: idx, digests: []agconsensus.Digest{s.Digest}}
		return rejected(reason)
	}

	sl.digests = append(sl.digests, s.Digest)
	return t.flag(sl, s)
}

// flag reports s as an equivocation against the slot's earlier statement,
// notifying the handler the first time the slot conflicts.
func (t *Table) flag(sl *slot, s agconsensus.SignedStatement) AddResult {
	res := AddResult{Outcome: OutcomeEquivocation}
	if sl.flagged {
		return res
	}
	sl.flagged = true

	first := sl.first
	if first < 0 {
		first = sl.seen
	}
	e := agconsensus.Equivocation{
		ValidatorIndex: s.ValidatorIndex,
		Round:          s.Round,
		Kind:           s.Kind,

		First:  t.entries[first].Statement,
		Second: s,
	}
	t.equivocations = append(t.equivocations, e)
	res.Equivocation = &e

	t.log.Warn(
		"Equivocation detected",
		"val", s.ValidatorIndex, "r", s.Round, "kind", s.Kind,
		"first", e.First.Digest.Short(), "second", s.Digest.Short(),
	)

	if t.onEquivocation != nil {
		t.onEquivocation.OnEquivocation(e)
	}

	return res
}

// attachLockProof keeps the highest-round lock proof seen on copies
// of the authoritative RoundChange at sl.
// Relays may drop the proof, so a later copy can carry one the first lacked.
func (t *Table) attachLockProof(sl *slot, s agconsensus.SignedStatement) {
	if s.LockProof == nil || sl.first < 0 {
		return
	}
	have := &t.entries[sl.first].Statement
	if have.Digest != s.Digest {
		return
	}
	if have.LockProof != nil && have.LockProof.Round >= s.LockProof.Round {
		return
	}
	p := s.LockProof.Clone()
	have.LockProof = &p
}

// count updates every derived index for the authoritative statement at entry idx.
func (t *Table) count(idx int, s agconsensus.SignedStatement) {
	w := t.vs.Weight(s.ValidatorIndex)
	q := t.vs.Quorum()

	tk := tallyKey{round: s.Round, kind: s.Kind, digest: s.Digest}
	before := t.tallies[tk]
	after := before + w
	t.tallies[tk] = after
	t.voters[tk] = append(t.voters[tk], idx)

	rk := roundKind{round: s.Round, kind: s.Kind}
	t.kindWeight[rk] += w

	if before < q && after >= q {
		t.quorums[rk] = append(t.quorums[rk], s.Digest)

		if !s.Digest.IsNil() && (s.Kind == agconsensus.StatementPrepare || s.Kind == agconsensus.StatementCommit) {
			t.includable[s.Digest] = struct{}{}
		}
	}

	bs := t.roundVoters[s.Round]
	if bs == nil {
		bs = bitset.New(uint(t.vs.Len()))
		t.roundVoters[s.Round] = bs
	}
	if !bs.Test(uint(s.ValidatorIndex)) {
		bs.Set(uint(s.ValidatorIndex))
		t.roundWeight[s.Round] += w
	}
}

func (t *Table) isStale(round uint64) bool {
	return t.hasFinalizedRound && round < t.finalizedRound
}

// SetFinalizedRound marks round as finalized.
// Statements for earlier rounds are recorded from then on but not counted.
// The finalized round never moves backwards.
func (t *Table) SetFinalizedRound(round uint64) {
	if t.hasFinalizedRound && round <= t.finalizedRound {
		return
	}
	t.hasFinalizedRound = true
	t.finalizedRound = round
}

// SessionID returns the table's session.
func (t *Table) SessionID() agconsensus.SessionID {
	return t.sid
}

// ValidatorSet returns the table's validator set snapshot.
func (t *Table) ValidatorSet() *agconsensus.ValidatorSet {
	return t.vs
}

// Tally returns the weight of authoritative statements for the given key.
func (t *Table) Tally(round uint64, kind agconsensus.StatementKind, d agconsensus.Digest) uint64 {
	return t.tallies[tallyKey{round: round, kind: kind, digest: d}]
}

// HasQuorum reports whether Tally meets the quorum threshold.
func (t *Table) HasQuorum(round uint64, kind agconsensus.StatementKind, d agconsensus.Digest) bool {
	return t.Tally(round, kind, d) >= t.vs.Quorum()
}

// KindWeight returns the weight of validators that sent any statement
// of the given kind in round, regardless of digest.
func (t *Table) KindWeight(round uint64, kind agconsensus.StatementKind) uint64 {
	return t.kindWeight[roundKind{round: round, kind: kind}]
}

// QuorumDigests returns the digests that reached quorum for (round, kind),
// in the order they reached it.
// More than one entry means the validator set's fault assumption was violated.
func (t *Table) QuorumDigests(round uint64, kind agconsensus.StatementKind) []agconsensus.Digest {
	return t.quorums[roundKind{round: round, kind: kind}]
}

// RoundWeight returns the weight of distinct validators with a counted statement in round.
func (t *Table) RoundWeight(round uint64) uint64 {
	return t.roundWeight[round]
}

// IsIncludable reports whether d has reached a Prepare or Commit quorum in any round.
func (t *Table) IsIncludable(d agconsensus.Digest) bool {
	_, ok := t.includable[d]
	return ok
}

// Authoritative returns the counted statement for (val, round, kind), if any.
func (t *Table) Authoritative(val uint32, round uint64, kind agconsensus.StatementKind) (agconsensus.SignedStatement, bool) {
	sl := t.slots[slotKey{val: val, round: round, kind: kind}]
	if sl == nil || sl.first < 0 {
		return agconsensus.SignedStatement{}, false
	}
	return t.entries[sl.first].Statement, true
}

// CountedStatements returns the authoritative statements for the given key,
// in arrival order.
func (t *Table) CountedStatements(kind agconsensus.StatementKind, round uint64, d agconsensus.Digest) []agconsensus.SignedStatement {
	idxs := t.voters[tallyKey{round: round, kind: kind, digest: d}]
	out := make([]agconsensus.SignedStatement, len(idxs))
	for i, idx := range idxs {
		out[i] = t.entries[idx].Statement
	}
	return out
}

// JustificationFor returns the minimal Commit justification for (round, d),
// once the Commit quorum holds.
func (t *Table) JustificationFor(round uint64, d agconsensus.Digest) (agconsensus.Justification, bool) {
	return t.CertificateFor(agconsensus.StatementCommit, round, d)
}

// CertificateFor generalizes [Table.JustificationFor] to any statement kind.
// Prepare certificates serve as lock proofs.
func (t *Table) CertificateFor(kind agconsensus.StatementKind, round uint64, d agconsensus.Digest) (agconsensus.Justification, bool) {
	if !t.HasQuorum(round, kind, d) {
		return agconsensus.Justification{}, false
	}
	return agjustify.Build(t, kind, round, d)
}

// Entries returns the full log in arrival order.
// The returned slice must not be modified.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Len returns the number of log entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Equivocations returns every equivocation flagged so far.
func (t *Table) Equivocations() []agconsensus.Equivocation {
	return t.equivocations
}

package agengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/trace"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agjustify"
	"github.com/gordian-engine/gagree/ag/agstore"
	"github.com/gordian-engine/gagree/ag/agtable"
	"github.com/gordian-engine/gagree/gcrypto"
	"github.com/gordian-engine/gagree/internal/gchan"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrStopped is the cause reported to callers whose request
// was interrupted by engine teardown.
var ErrStopped = errors.New("engine stopped")

// Config holds the required collaborators for [New].
type Config struct {
	SessionID    agconsensus.SessionID
	ValidatorSet *agconsensus.ValidatorSet

	// Signer is nil for an observer, which follows the session without voting.
	// Otherwise its public key must belong to ValidatorSet.
	Signer gcrypto.Signer

	Broadcaster         agconsensus.Broadcaster
	FinalizationHandler agconsensus.FinalizationHandler

	RoundStateStore agstore.RoundStateStore
	StatementStore  agstore.StatementStore
}

func (c Config) validate() error {
	var missing []string
	if c.SessionID == "" {
		missing = append(missing, "SessionID")
	}
	if c.ValidatorSet == nil {
		missing = append(missing, "ValidatorSet")
	}
	if c.Broadcaster == nil {
		missing = append(missing, "Broadcaster")
	}
	if c.FinalizationHandler == nil {
		missing = append(missing, "FinalizationHandler")
	}
	if c.RoundStateStore == nil {
		missing = append(missing, "RoundStateStore")
	}
	if c.StatementStore == nil {
		missing = append(missing, "StatementStore")
	}
	if len(missing) > 0 {
		return fmt.Errorf("engine config missing required fields: %v", missing)
	}
	return nil
}

// Snapshot is a point-in-time copy of an engine's state.
type Snapshot struct {
	SessionID  agconsensus.SessionID
	RoundState agconsensus.RoundState
	Proposer   uint32

	Statements    int
	Equivocations int

	// Nil until the session finalizes.
	Finalized *agconsensus.JustifiedCandidate
}

// Engine runs agreement for one session.
// Its methods are safe to call concurrently.
type Engine struct {
	log *slog.Logger

	sid   agconsensus.SessionID
	vs    *agconsensus.ValidatorSet
	table *agtable.Table

	k *kernel

	// Closed when the context given to New is done.
	stopped <-chan struct{}

	poolMu      sync.RWMutex
	pool        *workerpool.WorkerPool
	poolStopped bool
	poolDone    chan struct{}

	verified *lru.Cache[[32]byte, agtable.Verified]

	addRequests        chan<- addRequest
	candidateRequests  chan<- candidateRequest
	includableRequests chan<- includableRequest
	snapshotRequests   chan<- snapshotRequest
}

type addRequest struct {
	V    agtable.Verified
	Resp chan agtable.AddResult
}

type candidateRequest struct {
	C    agconsensus.Candidate
	Resp chan struct{}
}

type includableRequest struct {
	D    agconsensus.Digest
	Resp chan bool
}

type snapshotRequest struct {
	Resp chan Snapshot
}

// New returns a running Engine for the session in cfg.
//
// If the stores hold state for the session, the engine resumes from it
// without re-signing anything it already signed.
// Missing state that the engine needs to resume safely
// is reported as [agstore.ErrStateLost].
//
// The engine runs until ctx is cancelled; call [*Engine.Wait] afterwards.
func New(ctx context.Context, log *slog.Logger, cfg Config, opts ...Opt) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := options{
		selector:      agconsensus.RoundRobin{},
		verifyWorkers: runtime.GOMAXPROCS(0),
		cacheSize:     4096,
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if o.ts == nil {
		o.ts = LinearTimeoutStrategy{}
	}
	if o.rt == nil {
		o.rt = NewStandardRoundTimer(o.ts)
	}

	ownIdx := -1
	if cfg.Signer != nil {
		idx, ok := cfg.ValidatorSet.IndexOf(cfg.Signer.PubKey())
		if !ok {
			return nil, errors.New("signer's public key is not in the session's validator set")
		}
		ownIdx = int(idx)
	}

	log = log.With("sid", string(cfg.SessionID))

	var tableOpts []agtable.Opt
	if o.eqHandler != nil {
		tableOpts = append(tableOpts, agtable.WithEquivocationHandler(o.eqHandler))
	}
	table := agtable.New(log.With("m_sys", "table"), cfg.SessionID, cfg.ValidatorSet, tableOpts...)

	cache, err := lru.New[[32]byte, agtable.Verified](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating verified statement cache: %w", err)
	}

	// The caller blocks on the response in every case,
	// so these are unbuffered.
	addRequests := make(chan addRequest)
	candidateRequests := make(chan candidateRequest)
	includableRequests := make(chan includableRequest)
	snapshotRequests := make(chan snapshotRequest)

	k := &kernel{
		log: log.With("m_sys", "kernel"),

		sid:   cfg.SessionID,
		vs:    cfg.ValidatorSet,
		table: table,

		signer: cfg.Signer,
		ownIdx: ownIdx,

		bc: cfg.Broadcaster,
		fh: cfg.FinalizationHandler,

		rsStore:   cfg.RoundStateStore,
		stmtStore: cfg.StatementStore,
		finStore:  o.finStore,

		rt:       o.rt,
		ts:       o.ts,
		selector: o.selector,

		metrics:   o.metrics,
		absentObs: o.absentObs,

		started: time.Now(),

		candidates:   make(map[agconsensus.Digest]agconsensus.Candidate),
		pols:         make(map[agconsensus.Digest]agconsensus.Justification),
		futureRounds: make(map[uint64]struct{}),
		absentStreak: make(map[uint32]int),

		addRequests:        addRequests,
		candidateRequests:  candidateRequests,
		includableRequests: includableRequests,
		snapshotRequests:   snapshotRequests,

		done: make(chan struct{}),
	}

	if err := k.init(ctx, o.resume); err != nil {
		k.stopTimer()
		return nil, err
	}

	if ownIdx < 0 {
		log.Info("Engine starting without signer; following session as observer")
	}

	go k.run(ctx)

	e := &Engine{
		log: log,

		sid:   cfg.SessionID,
		vs:    cfg.ValidatorSet,
		table: table,

		k: k,

		stopped: ctx.Done(),

		pool:     workerpool.New(o.verifyWorkers),
		poolDone: make(chan struct{}),

		verified: cache,

		addRequests:        addRequests,
		candidateRequests:  candidateRequests,
		includableRequests: includableRequests,
		snapshotRequests:   snapshotRequests,
	}

	go e.stopPoolOnDone()

	return e, nil
}

// stopPoolOnDone abandons queued verification work at teardown.
func (e *Engine) stopPoolOnDone() {
	defer close(e.poolDone)

	<-e.stopped

	e.poolMu.Lock()
	e.poolStopped = true
	e.poolMu.Unlock()

	// Stop waits only for tasks already running, which are short.
	e.pool.Stop()
}

// Wait blocks until the engine's goroutines have all completed.
// To begin shutdown, cancel the context passed to [New].
func (e *Engine) Wait() {
	e.k.Wait()
	<-e.poolDone
}

func (e *Engine) SessionID() agconsensus.SessionID {
	return e.sid
}

// callCtx returns a context cancelled by either ctx or engine teardown.
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-e.stopped:
			cancel(ErrStopped)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(nil) }
}

// AddStatement verifies s off the kernel goroutine and then applies it.
//
// Statement-level problems are reported through the result's Outcome and Reason;
// the error is only set when ctx is cancelled or the engine stops.
func (e *Engine) AddStatement(ctx context.Context, s agconsensus.SignedStatement) (agtable.AddResult, error) {
	defer trace.StartRegion(ctx, "AddStatement").End()

	ctx, cancel := e.callCtx(ctx)
	defer cancel()

	fp := s.Fingerprint(e.sid)
	v, ok := e.verified.Get(fp)
	if !ok {
		var err error
		v, err = e.verifyOnPool(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return agtable.AddResult{}, context.Cause(ctx)
			}
			if errors.Is(err, ErrStopped) {
				return agtable.AddResult{}, err
			}

			e.log.Debug(
				"Rejected statement",
				"val", s.ValidatorIndex, "r", s.Round, "kind", s.Kind, "err", err,
			)
			return agtable.AddResult{Outcome: agtable.OutcomeRejected, Reason: err}, nil
		}
		e.verified.Add(fp, v)
	}

	req := addRequest{
		V:    v,
		Resp: make(chan agtable.AddResult, 1),
	}
	res, ok := gchan.ReqResp(
		ctx, e.log,
		e.addRequests, req,
		req.Resp,
		"AddStatement",
	)
	if !ok {
		return agtable.AddResult{}, context.Cause(ctx)
	}
	return res, nil
}

type verifyResult struct {
	V   agtable.Verified
	Err error
}

func (e *Engine) verifyOnPool(ctx context.Context, s agconsensus.SignedStatement) (agtable.Verified, error) {
	resCh := make(chan verifyResult, 1)

	e.poolMu.RLock()
	if e.poolStopped {
		e.poolMu.RUnlock()
		return agtable.Verified{}, ErrStopped
	}
	e.pool.Submit(func() {
		v, err := e.verify(s)
		resCh <- verifyResult{V: v, Err: err}
	})
	e.poolMu.RUnlock()

	select {
	case <-ctx.Done():
		// The worker's result, if any, is dropped with resCh.
		return agtable.Verified{}, context.Cause(ctx)
	case r := <-resCh:
		return r.V, r.Err
	}
}

// verify runs every check that does not depend on kernel state.
func (e *Engine) verify(s agconsensus.SignedStatement) (agtable.Verified, error) {
	v, err := e.table.Check(s)
	if err != nil {
		return v, err
	}

	if s.LockProof == nil {
		return v, nil
	}

	lp := *s.LockProof
	switch {
	case s.Kind != agconsensus.StatementRoundChange:
		return agtable.Verified{}, fmt.Errorf("%w: lock proof on %s statement", agtable.ErrMalformedStatement, s.Kind)
	case lp.Kind != agconsensus.StatementPrepare:
		return agtable.Verified{}, fmt.Errorf("%w: lock proof of kind %s", agtable.ErrMalformedStatement, lp.Kind)
	case lp.Digest != s.Digest:
		return agtable.Verified{}, fmt.Errorf(
			"%w: lock proof for %s on statement for %s",
			agtable.ErrMalformedStatement, lp.Digest.Short(), s.Digest.Short(),
		)
	case lp.Round > s.Round:
		return agtable.Verified{}, fmt.Errorf(
			"%w: lock proof round %d after statement round %d",
			agtable.ErrMalformedStatement, lp.Round, s.Round,
		)
	}

	if err := agjustify.Verify(e.sid, e.vs, lp); err != nil {
		return agtable.Verified{}, fmt.Errorf("%w: lock proof: %w", agtable.ErrMalformedStatement, err)
	}
	return v, nil
}

// SubmitCandidate makes a candidate body known to the engine.
// A candidate whose ProposerIndex is this node's validator index
// is the local candidate, proposed when this node is the round's proposer.
// Bodies of other candidates are attached to the finalization if they win.
func (e *Engine) SubmitCandidate(ctx context.Context, c agconsensus.Candidate) error {
	ctx, cancel := e.callCtx(ctx)
	defer cancel()

	req := candidateRequest{
		C:    c,
		Resp: make(chan struct{}),
	}
	if _, ok := gchan.ReqResp(
		ctx, e.log,
		e.candidateRequests, req,
		req.Resp,
		"SubmitCandidate",
	); !ok {
		return context.Cause(ctx)
	}
	return nil
}

// IsIncludable reports whether d has reached a Prepare or Commit quorum,
// so that block authoring may build on it.
func (e *Engine) IsIncludable(ctx context.Context, d agconsensus.Digest) (bool, error) {
	ctx, cancel := e.callCtx(ctx)
	defer cancel()

	req := includableRequest{
		D:    d,
		Resp: make(chan bool, 1),
	}
	ok, sent := gchan.ReqResp(
		ctx, e.log,
		e.includableRequests, req,
		req.Resp,
		"IsIncludable",
	)
	if !sent {
		return false, context.Cause(ctx)
	}
	return ok, nil
}

// State returns a snapshot of the engine's current state.
func (e *Engine) State(ctx context.Context) (Snapshot, error) {
	ctx, cancel := e.callCtx(ctx)
	defer cancel()

	req := snapshotRequest{
		Resp: make(chan Snapshot, 1),
	}
	s, ok := gchan.ReqResp(
		ctx, e.log,
		e.snapshotRequests, req,
		req.Resp,
		"State",
	)
	if !ok {
		return Snapshot{}, context.Cause(ctx)
	}
	return s, nil
}

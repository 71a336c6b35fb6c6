// Package agsession runs agreement sessions.
//
// A [Manager] owns any number of concurrent sessions.
// Each session has its own engine, statement table, timers,
// and network subscription, created by [*Manager.Start]
// and torn down as a unit by [*Manager.Stop].
// Sessions share only the stores and the network host, and those are keyed by session ID.
package agsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agengine"
	"github.com/gordian-engine/gagree/ag/agimport"
	"github.com/gordian-engine/gagree/ag/agmetrics"
	"github.com/gordian-engine/gagree/ag/agp2p"
	"github.com/gordian-engine/gagree/ag/agstore"
	"github.com/gordian-engine/gagree/gcrypto"
)

// ErrAlreadyRunning is returned by [*Manager.Start] for a session that is already running.
var ErrAlreadyRunning = errors.New("session already running")

// ErrNotRunning is returned by [*Manager.Stop] for an unknown session.
var ErrNotRunning = errors.New("session not running")

// Config is the required configuration for [NewManager].
type Config struct {
	Registry agconsensus.ValidatorSetRegistry
	Network  agp2p.Network

	// Nil to observe sessions without voting.
	Signer gcrypto.Signer

	RoundStateStore agstore.RoundStateStore
	StatementStore  agstore.StatementStore

	// Optional.
	FinalizationStore agstore.FinalizationStore

	// Optional. Finalized candidates with known bodies are imported.
	Importer *agimport.Importer

	// Optional. Called after the importer for each finalization.
	FinalizationHandler agconsensus.FinalizationHandler

	// Optional. Also receives equivocations and proposer absences.
	Metrics *agmetrics.Collector

	// Applied to every session's engine, after the options derived from this config.
	EngineOpts []agengine.Opt
}

// Manager starts and stops sessions.
type Manager struct {
	log *slog.Logger
	cfg Config

	// Parent of every session context.
	ctx context.Context

	mu       sync.Mutex
	sessions map[agconsensus.SessionID]*Session
}

// NewManager returns a Manager whose sessions live no longer than ctx.
func NewManager(ctx context.Context, log *slog.Logger, cfg Config) (*Manager, error) {
	var missing []string
	if cfg.Registry == nil {
		missing = append(missing, "Registry")
	}
	if cfg.Network == nil {
		missing = append(missing, "Network")
	}
	if cfg.RoundStateStore == nil {
		missing = append(missing, "RoundStateStore")
	}
	if cfg.StatementStore == nil {
		missing = append(missing, "StatementStore")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("session manager config missing required fields: %v", missing)
	}

	return &Manager{
		log: log,
		cfg: cfg,
		ctx: ctx,

		sessions: make(map[agconsensus.SessionID]*Session),
	}, nil
}

// Start begins participating in session sid,
// using the validator set the registry returns at this moment.
//
// If resume is true, the session must have persisted state from a previous run;
// see [agengine.WithResume].
func (m *Manager) Start(ctx context.Context, sid agconsensus.SessionID, resume bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sid]; ok {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyRunning, sid)
	}

	vs, err := m.cfg.Registry.CurrentSnapshot(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("failed to get validator set for session %q: %w", sid, err)
	}

	ownIdx := -1
	if m.cfg.Signer != nil {
		idx, ok := vs.IndexOf(m.cfg.Signer.PubKey())
		if !ok {
			return nil, fmt.Errorf("signer is not a validator in session %q", sid)
		}
		ownIdx = int(idx)
	}

	name := petname.Generate(2, "-")
	log := m.log.With("sid", string(sid), "session", name)

	sCtx, cancel := context.WithCancel(m.ctx)
	h := &inbound{
		log:    log,
		ownIdx: ownIdx,
		ready:  make(chan struct{}),
	}

	conn, err := m.cfg.Network.Join(sCtx, sid, h)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to join network for session %q: %w", sid, err)
	}

	e, err := agengine.New(sCtx, log, agengine.Config{
		SessionID:    sid,
		ValidatorSet: vs,
		Signer:       m.cfg.Signer,

		Broadcaster:         conn,
		FinalizationHandler: m.finalizationHandler(sid),

		RoundStateStore: m.cfg.RoundStateStore,
		StatementStore:  m.cfg.StatementStore,
	}, m.engineOpts(resume)...)
	if err != nil {
		cancel()
		conn.Leave()
		return nil, fmt.Errorf("failed to start engine for session %q: %w", sid, err)
	}

	h.e = e
	close(h.ready)

	s := &Session{
		sid:  sid,
		name: name,

		vs:   vs,
		e:    e,
		conn: conn,

		cancel: cancel,
	}
	m.sessions[sid] = s

	log.Info("Started session", "validators", vs.Len(), "observer", ownIdx < 0, "resume", resume)
	return s, nil
}

func (m *Manager) engineOpts(resume bool) []agengine.Opt {
	opts := []agengine.Opt{agengine.WithResume(resume)}
	if m.cfg.FinalizationStore != nil {
		opts = append(opts, agengine.WithFinalizationStore(m.cfg.FinalizationStore))
	}
	if m.cfg.Metrics != nil {
		opts = append(opts,
			agengine.WithMetricsCollector(m.cfg.Metrics),
			agengine.WithEquivocationHandler(m.cfg.Metrics),
			agengine.WithAbsentProposerObserver(m.cfg.Metrics),
		)
	}
	return append(opts, m.cfg.EngineOpts...)
}

func (m *Manager) finalizationHandler(sid agconsensus.SessionID) agconsensus.FinalizationHandler {
	var hs []agconsensus.FinalizationHandler
	if m.cfg.Importer != nil {
		hs = append(hs, m.cfg.Importer.FinalizationHandler(sid))
	}
	if m.cfg.FinalizationHandler != nil {
		hs = append(hs, m.cfg.FinalizationHandler)
	}

	return agconsensus.FinalizationHandlerFunc(func(
		ctx context.Context, c agconsensus.Candidate, j agconsensus.Justification,
	) {
		for _, h := range hs {
			h.OnFinalized(ctx, c, j)
		}
	})
}

// Stop tears down session sid, waiting for its engine to exit.
// Verification work still queued for the session is abandoned.
func (m *Manager) Stop(sid agconsensus.SessionID) error {
	m.mu.Lock()
	s, ok := m.sessions[sid]
	if ok {
		delete(m.sessions, sid)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotRunning, sid)
	}

	m.stop(s)
	return nil
}

func (m *Manager) stop(s *Session) {
	s.conn.Leave()
	s.cancel()
	s.e.Wait()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Forget(s.sid)
	}

	m.log.Info("Stopped session", "sid", string(s.sid), "session", s.name)
}

// Session returns the running session sid, if any.
func (m *Manager) Session(sid agconsensus.SessionID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	return s, ok
}

// Sessions returns every running session, ordered by session ID.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b *Session) int {
		switch {
		case a.sid < b.sid:
			return -1
		case a.sid > b.sid:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Close stops every session concurrently.
// The network and stores remain open.
func (m *Manager) Close() {
	m.mu.Lock()
	ss := make([]*Session, 0, len(m.sessions))
	for sid, s := range m.sessions {
		ss = append(ss, s)
		delete(m.sessions, sid)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range ss {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.stop(s)
		}()
	}
	wg.Wait()
}

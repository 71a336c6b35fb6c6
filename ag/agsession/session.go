package agsession

import (
	"context"
	"log/slog"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agengine"
	"github.com/gordian-engine/gagree/ag/agp2p"
)

// Session is one running agreement session.
type Session struct {
	sid  agconsensus.SessionID
	name string

	vs   *agconsensus.ValidatorSet
	e    *agengine.Engine
	conn agp2p.SessionConn

	cancel context.CancelFunc
}

func (s *Session) ID() agconsensus.SessionID { return s.sid }

// Name is a random human-readable nickname, used in logs and the debug API.
func (s *Session) Name() string { return s.name }

func (s *Session) ValidatorSet() *agconsensus.ValidatorSet { return s.vs }

func (s *Session) Engine() *agengine.Engine { return s.e }

// Propose hands the local candidate to the engine
// and announces its body to the session's peers,
// so that they can attach it to the finalization.
func (s *Session) Propose(ctx context.Context, c agconsensus.Candidate) error {
	if err := s.e.SubmitCandidate(ctx, c); err != nil {
		return err
	}
	return s.conn.AnnounceCandidate(ctx, c)
}

// inbound feeds network messages to a session's engine.
// Messages arriving before the engine exists wait for it.
type inbound struct {
	log *slog.Logger

	// -1 for observers.
	ownIdx int

	ready chan struct{}
	e     *agengine.Engine
}

func (h *inbound) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-h.ready:
		return true
	}
}

func (h *inbound) HandleStatement(ctx context.Context, s agconsensus.SignedStatement) {
	if !h.wait(ctx) {
		return
	}

	res, err := h.e.AddStatement(ctx, s)
	if err != nil {
		// Only teardown produces errors here.
		return
	}
	h.log.Debug(
		"Handled statement",
		"kind", s.Kind, "r", s.Round, "val", s.ValidatorIndex, "digest", s.Digest.Short(),
		"result", res,
	)
}

func (h *inbound) HandleCandidate(ctx context.Context, c agconsensus.Candidate) {
	// The engine treats a candidate carrying its own index as the local one.
	if h.ownIdx >= 0 && c.ProposerIndex == uint32(h.ownIdx) {
		h.log.Warn("Ignoring announced candidate claiming local proposer", "digest", c.Digest().Short())
		return
	}

	if !h.wait(ctx) {
		return
	}

	// Only teardown produces errors here.
	_ = h.e.SubmitCandidate(ctx, c)
}

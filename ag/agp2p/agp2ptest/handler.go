package agp2ptest

import (
	"context"

	"github.com/gordian-engine/gagree/ag/agconsensus"
)

// ChannelHandler forwards inbound traffic to buffered channels.
type ChannelHandler struct {
	Statements chan agconsensus.SignedStatement
	Candidates chan agconsensus.Candidate
}

func NewChannelHandler(size int) *ChannelHandler {
	return &ChannelHandler{
		Statements: make(chan agconsensus.SignedStatement, size),
		Candidates: make(chan agconsensus.Candidate, size),
	}
}

func (h *ChannelHandler) HandleStatement(ctx context.Context, s agconsensus.SignedStatement) {
	select {
	case <-ctx.Done():
	case h.Statements <- s:
	}
}

func (h *ChannelHandler) HandleCandidate(ctx context.Context, c agconsensus.Candidate) {
	select {
	case <-ctx.Done():
	case h.Candidates <- c:
	}
}

package agenginetest

import (
	"context"

	"github.com/gordian-engine/gagree/ag/agconsensus"
)

// ChannelBroadcaster records broadcast statements on a buffered channel.
type ChannelBroadcaster struct {
	Out chan agconsensus.SignedStatement
}

// NewChannelBroadcaster returns a ChannelBroadcaster whose channel holds size statements.
// Broadcast blocks once the buffer is full, so size should cover a test's traffic.
func NewChannelBroadcaster(size int) *ChannelBroadcaster {
	return &ChannelBroadcaster{Out: make(chan agconsensus.SignedStatement, size)}
}

func (b *ChannelBroadcaster) Broadcast(ctx context.Context, s agconsensus.SignedStatement) error {
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case b.Out <- s:
		return nil
	}
}

// ChannelFinalizationHandler sends each finalization on a 1-buffered channel.
type ChannelFinalizationHandler struct {
	Out chan agconsensus.JustifiedCandidate
}

func NewChannelFinalizationHandler() *ChannelFinalizationHandler {
	return &ChannelFinalizationHandler{Out: make(chan agconsensus.JustifiedCandidate, 1)}
}

func (h *ChannelFinalizationHandler) OnFinalized(ctx context.Context, c agconsensus.Candidate, j agconsensus.Justification) {
	select {
	case <-ctx.Done():
	case h.Out <- agconsensus.JustifiedCandidate{Candidate: c, Justification: j}:
	}
}

// Package agp2p declares the network collaborators of an agreement session.
//
// A [Network] carries two kinds of session traffic:
// signed statements, which feed the engine,
// and candidate announcements, which make candidate bodies known
// so that finalizations can carry them.
package agp2p

import (
	"context"

	"github.com/gordian-engine/gagree/ag/agconsensus"
)

// Network is a node's connection to its peers.
type Network interface {
	// Join starts delivering the session's inbound traffic to h,
	// until ctx is cancelled or the returned SessionConn is closed.
	// Messages the local node sent are not delivered back to it.
	Join(ctx context.Context, sid agconsensus.SessionID, h InboundHandler) (SessionConn, error)

	// Close disconnects from all peers.
	// Sessions still joined stop receiving traffic.
	Close() error
}

// SessionConn is the outbound side of a joined session.
// It satisfies [agconsensus.Broadcaster] so it can be passed straight to an engine.
type SessionConn interface {
	agconsensus.Broadcaster

	AnnounceCandidate(ctx context.Context, c agconsensus.Candidate) error

	// Leave stops delivery to the session's handler.
	Leave()
}

// InboundHandler receives a joined session's traffic.
// Calls for one session are serialized, in the order the network delivered them.
type InboundHandler interface {
	HandleStatement(ctx context.Context, s agconsensus.SignedStatement)
	HandleCandidate(ctx context.Context, c agconsensus.Candidate)
}

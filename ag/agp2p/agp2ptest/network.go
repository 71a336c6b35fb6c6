// Package agp2ptest contains an in-process [agp2p.Network] for tests and local demos.
package agp2ptest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ef-ds/deque"
	"github.com/gordian-engine/gagree/ag/agcodec"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agp2p"
)

// Network connects any number of in-process peers.
// Every message passes through the codec, as it would on a real network,
// and each joined session receives messages in the order they were sent to it.
type Network struct {
	log   *slog.Logger
	codec agcodec.Codec

	mu    sync.Mutex
	peers []*Peer

	wg sync.WaitGroup
}

// NewNetwork returns an empty Network.
func NewNetwork(log *slog.Logger, codec agcodec.Codec) *Network {
	return &Network{log: log, codec: codec}
}

// Connect adds a new peer to the network.
func (n *Network) Connect() *Peer {
	n.mu.Lock()
	defer n.mu.Unlock()

	p := &Peer{
		n:   n,
		idx: len(n.peers),
		log: n.log.With("peer", len(n.peers)),

		sessions: make(map[agconsensus.SessionID]*session),
	}
	n.peers = append(n.peers, p)
	return p
}

// Wait blocks until every session delivery goroutine has stopped.
// Sessions stop when they are left, their join context is cancelled,
// or their peer is closed.
func (n *Network) Wait() {
	n.wg.Wait()
}

// send enqueues b for every peer other than from that has joined sid.
func (n *Network) send(from *Peer, sid agconsensus.SessionID, b []byte) {
	n.mu.Lock()
	peers := n.peers
	n.mu.Unlock()

	for _, p := range peers {
		if p == from {
			continue
		}
		if s := p.session(sid); s != nil {
			s.push(b)
		}
	}
}

// Peer is one node's view of a [Network]. It implements [agp2p.Network].
type Peer struct {
	n   *Network
	idx int
	log *slog.Logger

	mu       sync.Mutex
	sessions map[agconsensus.SessionID]*session
	closed   bool
}

var errClosed = errors.New("peer closed")

func (p *Peer) Join(ctx context.Context, sid agconsensus.SessionID, h agp2p.InboundHandler) (agp2p.SessionConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errClosed
	}
	if _, ok := p.sessions[sid]; ok {
		return nil, errors.New("session already joined")
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		sid: sid,
		h:   h,
		log: p.log.With("sid", string(sid)),

		wake:   make(chan struct{}, 1),
		cancel: cancel,
	}
	p.sessions[sid] = s

	p.n.wg.Add(1)
	go s.run(ctx, p)

	return sessionConn{p: p, s: s}, nil
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for sid, s := range p.sessions {
		s.cancel()
		delete(p.sessions, sid)
	}
	return nil
}

func (p *Peer) session(sid agconsensus.SessionID) *session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[sid]
}

func (p *Peer) leave(s *session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s.cancel()
	if p.sessions[s.sid] == s {
		delete(p.sessions, s.sid)
	}
}

type session struct {
	sid agconsensus.SessionID
	h   agp2p.InboundHandler
	log *slog.Logger

	mu sync.Mutex
	q  deque.Deque

	wake   chan struct{}
	cancel context.CancelFunc
}

func (s *session) push(b []byte) {
	s.mu.Lock()
	s.q.PushBack(b)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *session) pop() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.q.PopFront()
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (s *session) run(ctx context.Context, p *Peer) {
	defer p.n.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		for {
			if ctx.Err() != nil {
				return
			}

			b, ok := s.pop()
			if !ok {
				break
			}

			m, err := agp2p.Decode(p.n.codec, b)
			if err != nil {
				s.log.Warn("Dropping undecodable message", "err", err)
				continue
			}
			agp2p.Dispatch(ctx, s.h, m)
		}
	}
}

type sessionConn struct {
	p *Peer
	s *session
}

func (c sessionConn) Broadcast(_ context.Context, st agconsensus.SignedStatement) error {
	b, err := agp2p.EncodeStatement(c.p.n.codec, st)
	if err != nil {
		return err
	}
	c.p.n.send(c.p, c.s.sid, b)
	return nil
}

func (c sessionConn) AnnounceCandidate(_ context.Context, cand agconsensus.Candidate) error {
	b, err := agp2p.EncodeCandidate(c.p.n.codec, cand)
	if err != nil {
		return err
	}
	c.p.n.send(c.p, c.s.sid, b)
	return nil
}

func (c sessionConn) Leave() {
	c.p.leave(c.s)
}

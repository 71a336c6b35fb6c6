// Package aglibp2p is the libp2p implementation of [agp2p.Network].
//
// Each session is a gossipsub topic.
// Peers find each other through a Kademlia DHT,
// advertising under a per-session rendezvous string,
// after dialing a configured set of bootstrap peers.
package aglibp2p

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordian-engine/gagree/ag/agcodec"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agp2p"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
)

const defaultPrefix = "/gagree"

// Config is the required configuration for [New].
type Config struct {
	// Multiaddrs to listen on, such as "/ip4/0.0.0.0/tcp/26656".
	ListenAddrs []string

	// Host identity. A random key is generated when nil.
	Identity crypto.PrivKey

	// Peers dialed at startup; they also seed the DHT.
	Bootstrap []peer.AddrInfo

	// Namespaces the DHT protocol, topics, and rendezvous strings,
	// so that separate deployments never mix. Defaults to "/gagree".
	ProtocolPrefix string

	Codec agcodec.Codec
}

// Network is a libp2p host joined to gossipsub and the DHT.
type Network struct {
	log   *slog.Logger
	codec agcodec.Codec

	prefix string

	host host.Host
	ps   *pubsub.PubSub
	kad  *dht.IpfsDHT
	disc *drouting.RoutingDiscovery

	mu       sync.Mutex
	sessions map[agconsensus.SessionID]*sessionConn

	wg sync.WaitGroup
}

// New starts a libp2p host and connects it to the configured bootstrap peers.
// It is an error if bootstrap peers were given and none could be dialed.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Network, error) {
	if cfg.Codec == nil {
		return nil, errors.New("aglibp2p: Config.Codec is required")
	}

	prefix := cfg.ProtocolPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	}
	if cfg.Identity != nil {
		opts = append(opts, libp2p.Identity(cfg.Identity))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	dhtOpts := []dht.Option{
		dht.Mode(dht.ModeAutoServer),
		dht.DisableValues(),
		dht.ProtocolPrefix(protocol.ID(prefix)),
	}
	if len(cfg.Bootstrap) > 0 {
		dhtOpts = append(dhtOpts, dht.BootstrapPeers(cfg.Bootstrap...))
	}
	kad, err := dht.New(ctx, h, dhtOpts...)
	if err != nil {
		return nil, multierr.Combine(
			fmt.Errorf("failed to create DHT: %w", err),
			h.Close(),
		)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, multierr.Combine(
			fmt.Errorf("failed to create gossipsub: %w", err),
			kad.Close(),
			h.Close(),
		)
	}

	n := &Network{
		log:   log,
		codec: cfg.Codec,

		prefix: prefix,

		host: h,
		ps:   ps,
		kad:  kad,
		disc: drouting.NewRoutingDiscovery(kad),

		sessions: make(map[agconsensus.SessionID]*sessionConn),
	}

	if err := n.dialBootstrap(ctx, cfg.Bootstrap); err != nil {
		return nil, multierr.Combine(err, n.Close())
	}

	if err := kad.Bootstrap(ctx); err != nil {
		return nil, multierr.Combine(
			fmt.Errorf("failed to bootstrap DHT: %w", err),
			n.Close(),
		)
	}

	log.Info("Started libp2p host", "id", h.ID(), "addrs", h.Addrs())
	return n, nil
}

func (n *Network) dialBootstrap(ctx context.Context, peers []peer.AddrInfo) error {
	if len(peers) == 0 {
		return nil
	}

	var errs error
	connected := 0
	for _, ai := range peers {
		if ai.ID == n.host.ID() {
			continue
		}

		b, err := retry.NewExponential(250 * time.Millisecond)
		if err != nil {
			return fmt.Errorf("failed to create dial backoff: %w", err)
		}
		b = retry.WithMaxRetries(5, b)

		err = retry.Do(ctx, b, func(ctx context.Context) error {
			if err := n.host.Connect(ctx, ai); err != nil {
				n.log.Debug("Bootstrap dial failed; retrying", "peer", ai.ID, "err", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			n.log.Warn("Giving up on bootstrap peer", "peer", ai.ID, "err", err)
			errs = multierr.Append(errs, fmt.Errorf("dialing %s: %w", ai.ID, err))
			continue
		}
		connected++
	}

	if connected == 0 && errs != nil {
		return fmt.Errorf("failed to dial any bootstrap peer: %w", errs)
	}
	return nil
}

// AddrInfo returns the host's ID and listen addresses,
// suitable for use as another node's bootstrap peer.
func (n *Network) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()}
}

// Host returns the underlying libp2p host.
func (n *Network) Host() host.Host {
	return n.host
}

func (n *Network) topicName(sid agconsensus.SessionID) string {
	return n.prefix + "/session/" + string(sid)
}

func (n *Network) Join(ctx context.Context, sid agconsensus.SessionID, h agp2p.InboundHandler) (agp2p.SessionConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.sessions[sid]; ok {
		return nil, fmt.Errorf("session %q already joined", sid)
	}

	name := n.topicName(sid)
	topic, err := n.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic %q: %w", name, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, multierr.Combine(
			fmt.Errorf("failed to subscribe to topic %q: %w", name, err),
			topic.Close(),
		)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &sessionConn{
		n:   n,
		sid: sid,
		log: n.log.With("sid", string(sid)),

		topic:  topic,
		sub:    sub,
		cancel: cancel,
	}
	n.sessions[sid] = c

	dutil.Advertise(ctx, n.disc, name)

	n.wg.Add(2)
	go c.readLoop(ctx, h)
	go c.findPeers(ctx, name)

	return c, nil
}

// Close leaves every session and shuts the host down.
func (n *Network) Close() error {
	n.mu.Lock()
	conns := make([]*sessionConn, 0, len(n.sessions))
	for _, c := range n.sessions {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	for _, c := range conns {
		c.Leave()
	}
	n.wg.Wait()

	return multierr.Combine(
		n.kad.Close(),
		n.host.Close(),
	)
}

type sessionConn struct {
	n   *Network
	sid agconsensus.SessionID
	log *slog.Logger

	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	cancel context.CancelFunc

	leaveOnce sync.Once
}

func (c *sessionConn) Broadcast(ctx context.Context, s agconsensus.SignedStatement) error {
	b, err := agp2p.EncodeStatement(c.n.codec, s)
	if err != nil {
		return err
	}
	return c.topic.Publish(ctx, b)
}

func (c *sessionConn) AnnounceCandidate(ctx context.Context, cand agconsensus.Candidate) error {
	b, err := agp2p.EncodeCandidate(c.n.codec, cand)
	if err != nil {
		return err
	}
	return c.topic.Publish(ctx, b)
}

func (c *sessionConn) Leave() {
	c.leaveOnce.Do(func() {
		c.cancel()
		c.sub.Cancel()

		c.n.mu.Lock()
		if c.n.sessions[c.sid] == c {
			delete(c.n.sessions, c.sid)
		}
		c.n.mu.Unlock()
	})
}

func (c *sessionConn) readLoop(ctx context.Context, h agp2p.InboundHandler) {
	defer c.n.wg.Done()
	defer func() {
		// Fails if another subscription to the topic is still open,
		// which only matters for logging.
		if err := c.topic.Close(); err != nil {
			c.log.Debug("Failed to close topic", "err", err)
		}
	}()

	self := c.n.host.ID()
	for {
		msg, err := c.sub.Next(ctx)
		if err != nil {
			// Context cancelled or subscription cancelled.
			return
		}

		if msg.GetFrom() == self {
			continue
		}

		m, err := agp2p.Decode(c.n.codec, msg.Data)
		if err != nil {
			c.log.Warn("Dropping undecodable message", "from", msg.GetFrom(), "err", err)
			continue
		}
		agp2p.Dispatch(ctx, h, m)
	}
}

// findPeers connects to peers advertising the session's rendezvous string.
func (c *sessionConn) findPeers(ctx context.Context, ns string) {
	defer c.n.wg.Done()

	peers, err := c.n.disc.FindPeers(ctx, ns)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("Peer discovery failed", "err", err)
		}
		return
	}

	self := c.n.host.ID()
	for ai := range peers {
		if ai.ID == self || len(ai.Addrs) == 0 {
			continue
		}
		if len(c.n.host.Network().ConnsToPeer(ai.ID)) > 0 {
			continue
		}

		if err := c.n.host.Connect(ctx, ai); err != nil {
			c.log.Debug("Failed to connect to discovered peer", "peer", ai.ID, "err", err)
			continue
		}
		c.log.Debug("Connected to discovered peer", "peer", ai.ID)
	}
}

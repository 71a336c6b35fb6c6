package aglibp2p_test

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gagree/ag/agcodec/agcbor"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/gordian-engine/gagree/ag/agp2p/aglibp2p"
	"github.com/gordian-engine/gagree/ag/agp2p/agp2ptest"
	"github.com/gordian-engine/gagree/internal/gtest"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func TestNetwork_gossip(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping libp2p network test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := gtest.NewLogger(t)
	codec := agcbor.NewCodec()

	seed, err := aglibp2p.New(ctx, log.With("node", "seed"), aglibp2p.Config{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		Codec:       codec,
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, seed.Close()) }()

	other, err := aglibp2p.New(ctx, log.With("node", "other"), aglibp2p.Config{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		Bootstrap:   []peer.AddrInfo{seed.AddrInfo()},
		Codec:       codec,
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, other.Close()) }()

	fx := agconsensustest.NewEd25519Fixture(2)

	hSeed := agp2ptest.NewChannelHandler(16)
	hOther := agp2ptest.NewChannelHandler(16)

	cSeed, err := seed.Join(ctx, fx.SessionID, hSeed)
	require.NoError(t, err)
	_, err = other.Join(ctx, fx.SessionID, hOther)
	require.NoError(t, err)

	_, err = other.Join(ctx, fx.SessionID, hOther)
	require.Error(t, err)

	s := fx.SignStatement(ctx, 0, agconsensus.StatementPrepare, 0, fx.Candidate(1, 0, "c").Digest())

	// Subscriptions propagate asynchronously, so publish until the other side hears it.
	deadline := time.Now().Add(10 * time.Second)
	var got agconsensus.SignedStatement
	for received := false; !received; {
		require.NoError(t, cSeed.Broadcast(ctx, s))

		select {
		case got = <-hOther.Statements:
			received = true
		case <-time.After(100 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("statement never arrived over gossipsub")
			}
		}
	}
	require.Equal(t, s, got)

	// Publishers do not hear themselves.
	gtest.NotSending(t, hSeed.Statements)

	cand := fx.Candidate(1, 0, "c")
	require.NoError(t, cSeed.AnnounceCandidate(ctx, cand))
	select {
	case c := <-hOther.Candidates:
		require.Equal(t, cand, c)
	case <-time.After(5 * time.Second):
		t.Fatal("candidate never arrived over gossipsub")
	}
}

func TestNew_requiresCodec(t *testing.T) {
	t.Parallel()

	_, err := aglibp2p.New(context.Background(), gtest.NewLogger(t), aglibp2p.Config{})
	require.Error(t, err)
}

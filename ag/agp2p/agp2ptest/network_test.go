package agp2ptest_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/gagree/ag/agcodec/agcbor"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/gordian-engine/gagree/ag/agp2p/agp2ptest"
	"github.com/gordian-engine/gagree/internal/gtest"
	"github.com/stretchr/testify/require"
)

func TestNetwork_deliversInOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	fx := agconsensustest.NewEd25519Fixture(4)
	n := agp2ptest.NewNetwork(gtest.NewLogger(t), agcbor.NewCodec())
	defer n.Wait()
	defer cancel()

	p0, p1, p2 := n.Connect(), n.Connect(), n.Connect()

	h0 := agp2ptest.NewChannelHandler(16)
	h1 := agp2ptest.NewChannelHandler(16)
	h2 := agp2ptest.NewChannelHandler(16)

	c0, err := p0.Join(ctx, fx.SessionID, h0)
	require.NoError(t, err)
	_, err = p1.Join(ctx, fx.SessionID, h1)
	require.NoError(t, err)

	// p2 is on a different session and sees nothing.
	_, err = p2.Join(ctx, "other-session", h2)
	require.NoError(t, err)

	d := fx.Candidate(1, 0, "c").Digest()
	var sent []agconsensus.SignedStatement
	for _, kind := range []agconsensus.StatementKind{
		agconsensus.StatementPropose,
		agconsensus.StatementPrepare,
		agconsensus.StatementCommit,
	} {
		s := fx.SignStatement(ctx, 0, kind, 0, d)
		sent = append(sent, s)
		require.NoError(t, c0.Broadcast(ctx, s))
	}

	for _, want := range sent {
		got := gtest.ReceiveSoon(t, h1.Statements)
		require.Equal(t, want, got)
	}

	cand := fx.Candidate(1, 0, "c")
	require.NoError(t, c0.AnnounceCandidate(ctx, cand))
	require.Equal(t, cand, gtest.ReceiveSoon(t, h1.Candidates))

	gtest.NotSending(t, h0.Statements)
	gtest.NotSending(t, h2.Statements)
	gtest.NotSending(t, h2.Candidates)
}

func TestNetwork_leave(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	fx := agconsensustest.NewEd25519Fixture(2)
	n := agp2ptest.NewNetwork(gtest.NewLogger(t), agcbor.NewCodec())
	defer n.Wait()
	defer cancel()

	p0, p1 := n.Connect(), n.Connect()
	h1 := agp2ptest.NewChannelHandler(4)

	c0, err := p0.Join(ctx, fx.SessionID, agp2ptest.NewChannelHandler(4))
	require.NoError(t, err)
	c1, err := p1.Join(ctx, fx.SessionID, h1)
	require.NoError(t, err)

	_, err = p1.Join(ctx, fx.SessionID, h1)
	require.Error(t, err)

	c1.Leave()

	d := fx.Candidate(1, 0, "c").Digest()
	require.NoError(t, c0.Broadcast(ctx, fx.SignStatement(ctx, 0, agconsensus.StatementPrepare, 0, d)))
	gtest.NotSending(t, h1.Statements)

	// Rejoining after leaving works.
	_, err = p1.Join(ctx, fx.SessionID, h1)
	require.NoError(t, err)

	require.NoError(t, p1.Close())
	_, err = p1.Join(ctx, "another", h1)
	require.Error(t, err)
}

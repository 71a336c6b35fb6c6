package agimport_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/gordian-engine/gagree/ag/agimport"
	"github.com/gordian-engine/gagree/ag/agjustify"
	"github.com/gordian-engine/gagree/ag/agmemstore"
	"github.com/gordian-engine/gagree/ag/agregistry"
	"github.com/gordian-engine/gagree/internal/gtest"
	"github.com/stretchr/testify/require"
)

type importFixture struct {
	Fx       *agconsensustest.Fixture
	Store    *agmemstore.CandidateStore
	Importer *agimport.Importer
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()

	fx := agconsensustest.NewEd25519Fixture(4)
	store := agmemstore.NewCandidateStore()

	i, err := agimport.New(
		context.Background(), gtest.NewLogger(t),
		store, agregistry.NewStatic(fx.ValidatorSet),
	)
	require.NoError(t, err)

	return &importFixture{Fx: fx, Store: store, Importer: i}
}

// Justified returns c with a Commit justification from validators 0 through 2.
func (f *importFixture) Justified(c agconsensus.Candidate) agconsensus.JustifiedCandidate {
	j := f.Fx.Justification(context.Background(), agconsensus.StatementCommit, 0, c.Digest(), 0, 1, 2)
	return agconsensus.JustifiedCandidate{Candidate: c, Justification: j}
}

func (f *importFixture) Child(parent agconsensus.Candidate, payload string) agconsensus.Candidate {
	c := f.Fx.Candidate(parent.Height+1, 0, payload)
	c.Parent = parent.Digest()
	return c
}

func TestImporter_chain(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newImportFixture(t)
	i := f.Importer
	sid := f.Fx.SessionID

	_, ok := i.BestHeight()
	require.False(t, ok)

	genesis := f.Fx.Candidate(0, 0, "genesis")
	res, err := i.Import(ctx, agimport.OriginGenesis, sid, f.Justified(genesis))
	require.NoError(t, err)
	require.Equal(t, agimport.ImportResultImported, res)

	res, err = i.Import(ctx, agimport.OriginNetworkBroadcast, sid, f.Justified(genesis))
	require.NoError(t, err)
	require.Equal(t, agimport.ImportResultAlreadyInChain, res)

	orphan := f.Child(f.Fx.Candidate(5, 0, "missing"), "orphan")
	res, err = i.Import(ctx, agimport.OriginNetworkBroadcast, sid, f.Justified(orphan))
	require.NoError(t, err)
	require.Equal(t, agimport.ImportResultUnknownParent, res)

	status, err := i.Status(ctx, orphan.Digest())
	require.NoError(t, err)
	require.Equal(t, agimport.StatusUnknown, status)

	c1 := f.Child(genesis, "one")
	res, err = i.Import(ctx, agimport.OriginOwn, sid, f.Justified(c1))
	require.NoError(t, err)
	require.Equal(t, agimport.ImportResultImported, res)

	status, err = i.Status(ctx, c1.Digest())
	require.NoError(t, err)
	require.Equal(t, agimport.StatusInChain, status)

	h, ok := i.BestHeight()
	require.True(t, ok)
	require.Equal(t, uint64(1), h)

	// A fresh importer over the same store picks up the best height.
	i2, err := agimport.New(ctx, gtest.NewLogger(t), f.Store, agregistry.NewStatic(f.Fx.ValidatorSet))
	require.NoError(t, err)
	h, ok = i2.BestHeight()
	require.True(t, ok)
	require.Equal(t, uint64(1), h)
}

func TestImporter_knownBad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newImportFixture(t)
	i := f.Importer
	sid := f.Fx.SessionID

	genesis := f.Fx.Candidate(0, 0, "genesis")
	_, err := i.Import(ctx, agimport.OriginGenesis, sid, f.Justified(genesis))
	require.NoError(t, err)

	forged := f.Child(genesis, "forged")
	j := f.Fx.Justification(ctx, agconsensus.StatementCommit, 0, forged.Digest(), 0, 1) // Short of quorum.
	_, err = i.CheckAndImport(ctx, agimport.OriginNetworkBroadcast, sid, forged, j)
	require.ErrorIs(t, err, agjustify.ErrBadJustification)

	// A bad justification does not taint the candidate.
	status, err := i.Status(ctx, forged.Digest())
	require.NoError(t, err)
	require.Equal(t, agimport.StatusUnknown, status)

	jf := f.Fx.Justification(ctx, agconsensus.StatementCommit, 0, forged.Digest(), 0, 1, 2)
	res, err := i.CheckAndImport(ctx, agimport.OriginNetworkBroadcast, sid, forged, jf)
	require.NoError(t, err)
	require.Equal(t, agimport.ImportResultImported, res)

	bad := f.Child(genesis, "bad")
	require.NoError(t, i.MarkBad(ctx, bad.Digest()))

	status, err = i.Status(ctx, bad.Digest())
	require.NoError(t, err)
	require.Equal(t, agimport.StatusKnownBad, status)

	res, err = i.Import(ctx, agimport.OriginNetworkBroadcast, sid, f.Justified(bad))
	require.NoError(t, err)
	require.Equal(t, agimport.ImportResultKnownBad, res)

	// Descendants of a bad candidate are bad too.
	child := f.Child(bad, "child")
	res, err = i.Import(ctx, agimport.OriginNetworkBroadcast, sid, f.Justified(child))
	require.NoError(t, err)
	require.Equal(t, agimport.ImportResultKnownBad, res)

	status, err = i.Status(ctx, child.Digest())
	require.NoError(t, err)
	require.Equal(t, agimport.StatusKnownBad, status)

	good := f.Child(genesis, "good")
	jg := f.Fx.Justification(ctx, agconsensus.StatementCommit, 2, good.Digest(), 1, 2, 3)
	res, err = i.CheckAndImport(ctx, agimport.OriginNetworkBroadcast, sid, good, jg)
	require.NoError(t, err)
	require.Equal(t, agimport.ImportResultImported, res)
}

func TestImporter_subscribe(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newImportFixture(t)
	i := f.Importer
	sid := f.Fx.SessionID

	subCtx, subCancel := context.WithCancel(ctx)
	ch := i.Subscribe(subCtx, 4)

	// Genesis imports do not notify.
	genesis := f.Fx.Candidate(0, 0, "genesis")
	_, err := i.Import(ctx, agimport.OriginGenesis, sid, f.Justified(genesis))
	require.NoError(t, err)
	gtest.NotSending(t, ch)

	c1 := f.Child(genesis, "one")
	_, err = i.Import(ctx, agimport.OriginConsensusBroadcast, sid, f.Justified(c1))
	require.NoError(t, err)

	n := gtest.ReceiveSoon(t, ch)
	require.Equal(t, c1.Digest(), n.Digest)
	require.Equal(t, agimport.OriginConsensusBroadcast, n.Origin)
	require.True(t, n.IsNewBest)

	// A sibling at the same height is not a new best.
	sib := f.Child(genesis, "sibling")
	_, err = i.Import(ctx, agimport.OriginNetworkBroadcast, sid, f.Justified(sib))
	require.NoError(t, err)
	n = gtest.ReceiveSoon(t, ch)
	require.False(t, n.IsNewBest)

	// Sync imports do not notify.
	c2 := f.Child(c1, "two")
	_, err = i.Import(ctx, agimport.OriginNetworkInitialSync, sid, f.Justified(c2))
	require.NoError(t, err)
	gtest.NotSending(t, ch)

	subCancel()
	require.False(t, gtest.ReceiveSoon(t, chanOK(ch)))
}

func TestImporter_slowSubscriberDropped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newImportFixture(t)
	i := f.Importer
	sid := f.Fx.SessionID

	ch := i.Subscribe(ctx, 1)

	genesis := f.Fx.Candidate(0, 0, "genesis")
	_, err := i.Import(ctx, agimport.OriginGenesis, sid, f.Justified(genesis))
	require.NoError(t, err)

	parent := genesis
	for _, p := range []string{"a", "b"} {
		c := f.Child(parent, p)
		_, err := i.Import(ctx, agimport.OriginOwn, sid, f.Justified(c))
		require.NoError(t, err)
		parent = c
	}

	// The first notification is buffered; the second overflowed and closed the channel.
	_, ok := <-ch
	require.True(t, ok)
	_, ok = <-ch
	require.False(t, ok)
}

func TestImporter_finalizationHandler(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newImportFixture(t)
	i := f.Importer
	sid := f.Fx.SessionID

	genesis := f.Fx.Candidate(0, 0, "genesis")
	_, err := i.Import(ctx, agimport.OriginGenesis, sid, f.Justified(genesis))
	require.NoError(t, err)

	h := i.FinalizationHandler(sid)

	c := f.Child(genesis, "final")
	jc := f.Justified(c)

	// Unknown body: only the digest is set.
	h.OnFinalized(ctx, agconsensus.Candidate{}, jc.Justification)
	status, err := i.Status(ctx, c.Digest())
	require.NoError(t, err)
	require.Equal(t, agimport.StatusUnknown, status)

	h.OnFinalized(ctx, jc.Candidate, jc.Justification)
	status, err = i.Status(ctx, c.Digest())
	require.NoError(t, err)
	require.Equal(t, agimport.StatusInChain, status)
}

// chanOK adapts a notification channel so ReceiveSoon can observe its closing.
func chanOK(ch <-chan agimport.ImportNotification) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		_, ok := <-ch
		out <- ok
	}()
	return out
}

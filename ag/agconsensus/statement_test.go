package agconsensus_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/stretchr/testify/require"
)

func TestSignBytes_CommonAcrossValidators(t *testing.T) {
	t.Parallel()

	d := agconsensus.Candidate{Height: 1, Payload: []byte("x")}.Digest()

	a := agconsensus.Statement{Kind: agconsensus.StatementPrepare, Round: 2, Digest: d, ValidatorIndex: 0}
	b := a
	b.ValidatorIndex = 3
	require.Equal(t, agconsensus.SignBytes("s", a), agconsensus.SignBytes("s", b))

	c := a
	c.Kind = agconsensus.StatementCommit
	require.NotEqual(t, agconsensus.SignBytes("s", a), agconsensus.SignBytes("s", c))

	require.NotEqual(t, agconsensus.SignBytes("s", a), agconsensus.SignBytes("other", a))
}

func TestStatement_Malformed(t *testing.T) {
	t.Parallel()

	require.Error(t, agconsensus.Statement{}.Malformed())
	require.Error(t, agconsensus.Statement{Kind: agconsensus.StatementPropose}.Malformed())
	require.NoError(t, agconsensus.Statement{Kind: agconsensus.StatementPrepare}.Malformed())
	require.Error(t, agconsensus.Statement{Kind: 9}.Malformed())
}

func TestSignedStatement_Fingerprint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := agconsensustest.NewEd25519Fixture(2)
	d := fx.Candidate(1, 0, "a").Digest()

	s0 := fx.SignStatement(ctx, 0, agconsensus.StatementPrepare, 0, d)
	s1 := fx.SignStatement(ctx, 1, agconsensus.StatementPrepare, 0, d)

	require.Equal(t, s0.Fingerprint(fx.SessionID), s0.Fingerprint(fx.SessionID))
	require.NotEqual(t, s0.Fingerprint(fx.SessionID), s1.Fingerprint(fx.SessionID))

	// A round change with and without its lock proof are different messages.
	rc := fx.SignStatement(ctx, 0, agconsensus.StatementRoundChange, 1, d)
	bare := rc.Fingerprint(fx.SessionID)
	lp := fx.Justification(ctx, agconsensus.StatementPrepare, 0, d, 0, 1)
	rc.LockProof = &lp
	withProof := rc.Fingerprint(fx.SessionID)
	require.NotEqual(t, bare, withProof)

	lp2 := fx.Justification(ctx, agconsensus.StatementPrepare, 0, d, 1)
	rc.LockProof = &lp2
	require.NotEqual(t, withProof, rc.Fingerprint(fx.SessionID))
}

func TestDigest_Text(t *testing.T) {
	t.Parallel()

	d := agconsensus.Candidate{Height: 7}.Digest()
	b, err := json.Marshal(d)
	require.NoError(t, err)

	var got agconsensus.Digest
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, d, got)

	require.Equal(t, "NIL", agconsensus.NilDigest.String())
	require.NotEqual(t, d, agconsensus.Candidate{Height: 8}.Digest())
}

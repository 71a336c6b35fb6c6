package agp2p_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/gagree/ag/agcodec/agcbor"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/gordian-engine/gagree/ag/agp2p"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	codec := agcbor.NewCodec()
	fx := agconsensustest.NewEd25519Fixture(2)

	s := fx.SignStatement(context.Background(), 1, agconsensus.StatementCommit, 3, fx.Candidate(1, 0, "c").Digest())
	b, err := agp2p.EncodeStatement(codec, s)
	require.NoError(t, err)

	m, err := agp2p.Decode(codec, b)
	require.NoError(t, err)
	require.Equal(t, agp2p.MessageStatement, m.Type)
	require.Nil(t, m.Candidate)
	require.Equal(t, s, *m.Statement)

	_, err = agp2p.Decode(codec, nil)
	require.Error(t, err)

	_, err = agp2p.Decode(codec, []byte{0xff, 0x00})
	require.Error(t, err)

	// A statement body under the candidate tag does not decode.
	b[0] = byte(agp2p.MessageCandidate)
	_, err = agp2p.Decode(codec, b)
	require.Error(t, err)
}

package agcbor_test

import (
	"testing"

	"github.com/gordian-engine/gagree/ag/agcodec/agcbor"
	"github.com/gordian-engine/gagree/ag/agcodec/agcodectest"
	"github.com/gordian-engine/gagree/ag/agconsensus/agconsensustest"
	"github.com/stretchr/testify/require"
)

func TestCodec(t *testing.T) {
	t.Parallel()

	agcodectest.TestCodecCompliance(t, agcbor.NewCodec())
}

func TestCodec_deterministic(t *testing.T) {
	t.Parallel()

	fx := agconsensustest.NewEd25519Fixture(4)
	cand := fx.Candidate(3, 1, "same bytes")

	c := agcbor.NewCodec()
	a, err := c.MarshalCandidate(cand)
	require.NoError(t, err)
	b, err := c.MarshalCandidate(cand)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

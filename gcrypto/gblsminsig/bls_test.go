package gblsminsig_test

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/gordian-engine/gagree/gcrypto"
	"github.com/gordian-engine/gagree/gcrypto/gblsminsig"
	"github.com/gordian-engine/gagree/gcrypto/gcryptotest"
	"github.com/stretchr/testify/require"
)

func TestSigner_Compliance(t *testing.T) {
	t.Parallel()

	var reg gcrypto.Registry
	gblsminsig.Register(&reg)

	signers := make([]gcrypto.Signer, 3)
	for i := range signers {
		var idx [8]byte
		binary.BigEndian.PutUint64(idx[:], uint64(i))
		ikm := sha256.Sum256(idx[:])

		s, err := gblsminsig.NewSigner(ikm[:])
		require.NoError(t, err)
		signers[i] = s
	}

	gcryptotest.TestSignerCompliance(t, &reg, signers)
}

func TestNewSigner_ShortIKM(t *testing.T) {
	t.Parallel()

	_, err := gblsminsig.NewSigner([]byte("short"))
	require.ErrorContains(t, err, "ikm data too short")
}

func TestNewPubKey_BadInput(t *testing.T) {
	t.Parallel()

	_, err := gblsminsig.NewPubKey([]byte{1, 2, 3})
	require.Error(t, err)
}

package gcrypto_test

import (
	"context"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/gagree/gcrypto"
	"github.com/gordian-engine/gagree/gcrypto/gcryptotest"
	"github.com/stretchr/testify/require"
)

func proofFixture(t *testing.T, n int) ([]gcrypto.PubKey, [][]byte) {
	t.Helper()

	signers := gcryptotest.DeterministicEd25519Signers(n)
	keys := make([]gcrypto.PubKey, n)
	sigs := make([][]byte, n)
	for i, s := range signers {
		keys[i] = s.PubKey()

		sig, err := s.Sign(context.Background(), []byte("hello"))
		require.NoError(t, err)
		sigs[i] = sig
	}
	return keys, sigs
}

func TestSignatureProof_AddSignature(t *testing.T) {
	t.Parallel()

	keys, sigs := proofFixture(t, 4)

	t.Run("accepts valid signature", func(t *testing.T) {
		t.Parallel()

		p := gcrypto.NewSignatureProof([]byte("hello"), keys, "h")
		require.NoError(t, p.AddSignature(sigs[1], keys[1]))

		has, valid := p.HasSparseKeyID(gcrypto.KeyIDFromIndex(1))
		require.True(t, has)
		require.True(t, valid)
	})

	t.Run("rejects signature from wrong key", func(t *testing.T) {
		t.Parallel()

		p := gcrypto.NewSignatureProof([]byte("hello"), keys, "h")
		require.ErrorIs(t, p.AddSignature(sigs[1], keys[2]), gcrypto.ErrInvalidSignature)
	})

	t.Run("rejects unknown key", func(t *testing.T) {
		t.Parallel()

		p := gcrypto.NewSignatureProof([]byte("hello"), keys[:2], "h")
		require.ErrorIs(t, p.AddSignature(sigs[3], keys[3]), gcrypto.ErrUnknownKey)
		require.ErrorIs(t, p.AddSignatureAt(2, sigs[3]), gcrypto.ErrUnknownKey)
	})
}

func TestSignatureProof_MergeSparse(t *testing.T) {
	t.Parallel()

	keys, sigs := proofFixture(t, 4)

	src := gcrypto.NewSignatureProof([]byte("hello"), keys, "h")
	require.NoError(t, src.AddSignatureAt(3, sigs[3]))
	require.NoError(t, src.AddSignatureAt(0, sigs[0]))

	sparse := src.AsSparse()
	require.Len(t, sparse.Signatures, 2)
	// Ordered by key index regardless of insertion order.
	require.Equal(t, gcrypto.KeyIDFromIndex(0), sparse.Signatures[0].KeyID)
	require.Equal(t, gcrypto.KeyIDFromIndex(3), sparse.Signatures[1].KeyID)

	t.Run("into empty proof", func(t *testing.T) {
		t.Parallel()

		dst := gcrypto.NewSignatureProof([]byte("hello"), keys, "h")
		res := dst.MergeSparse(sparse)
		require.True(t, res.AllValidSignatures)
		require.True(t, res.IncreasedSignatures)
		require.True(t, res.WasStrictSuperset)

		var bs bitset.BitSet
		dst.SignatureBitSet(&bs)
		require.Equal(t, uint(2), bs.Count())
		require.True(t, bs.Test(0))
		require.True(t, bs.Test(3))
	})

	t.Run("repeated merge adds nothing", func(t *testing.T) {
		t.Parallel()

		dst := src.Clone()
		res := dst.MergeSparse(sparse)
		require.True(t, res.AllValidSignatures)
		require.False(t, res.IncreasedSignatures)
		require.False(t, res.WasStrictSuperset)
	})

	t.Run("key hash mismatch", func(t *testing.T) {
		t.Parallel()

		dst := gcrypto.NewSignatureProof([]byte("hello"), keys, "other")
		require.Equal(t, gcrypto.SignatureProofMergeResult{}, dst.MergeSparse(sparse))
	})

	t.Run("invalid signature reported", func(t *testing.T) {
		t.Parallel()

		bad := gcrypto.SparseSignatureProof{
			PubKeyHash: "h",
			Signatures: []gcrypto.SparseSignature{
				{KeyID: gcrypto.KeyIDFromIndex(1), Sig: sigs[2]},
				{KeyID: gcrypto.KeyIDFromIndex(2), Sig: sigs[2]},
				{KeyID: []byte{1, 2, 3}, Sig: sigs[2]},
			},
		}

		dst := gcrypto.NewSignatureProof([]byte("hello"), keys, "h")
		res := dst.MergeSparse(bad)
		require.False(t, res.AllValidSignatures)
		require.True(t, res.IncreasedSignatures)

		has, valid := dst.HasSparseKeyID(gcrypto.KeyIDFromIndex(1))
		require.False(t, has)
		require.True(t, valid)

		_, valid = dst.HasSparseKeyID(gcrypto.KeyIDFromIndex(9))
		require.False(t, valid)
	})
}

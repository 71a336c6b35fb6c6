package gcryptotest

import (
	"context"
	"testing"

	"github.com/gordian-engine/gagree/gcrypto"
	"github.com/stretchr/testify/require"
)

// TestSignerCompliance checks the behavior every validator key type must have:
// signatures verify only for the signed message and the signing key,
// keys survive a registry round trip, and distinct keys are not equal.
//
// At least two signers are required.
func TestSignerCompliance(t *testing.T, reg *gcrypto.Registry, signers []gcrypto.Signer) {
	t.Helper()
	require.GreaterOrEqual(t, len(signers), 2)

	ctx := context.Background()
	msg := []byte("hello")

	t.Run("signature verifies", func(t *testing.T) {
		sig, err := signers[0].Sign(ctx, msg)
		require.NoError(t, err)

		require.True(t, signers[0].PubKey().Verify(msg, sig))
	})

	t.Run("signature rejected for other message", func(t *testing.T) {
		sig, err := signers[0].Sign(ctx, msg)
		require.NoError(t, err)

		require.False(t, signers[0].PubKey().Verify([]byte("goodbye"), sig))
	})

	t.Run("signature rejected for other key", func(t *testing.T) {
		sig, err := signers[0].Sign(ctx, msg)
		require.NoError(t, err)

		require.False(t, signers[1].PubKey().Verify(msg, sig))
	})

	t.Run("truncated signature rejected", func(t *testing.T) {
		sig, err := signers[0].Sign(ctx, msg)
		require.NoError(t, err)

		require.False(t, signers[0].PubKey().Verify(msg, sig[:len(sig)-1]))
	})

	t.Run("registry round trip", func(t *testing.T) {
		for _, s := range signers {
			got, err := reg.Unmarshal(reg.Marshal(s.PubKey()))
			require.NoError(t, err)
			require.True(t, s.PubKey().Equal(got))
			require.Equal(t, s.PubKey().TypeName(), got.TypeName())
		}
	})

	t.Run("distinct keys unequal", func(t *testing.T) {
		require.False(t, signers[0].PubKey().Equal(signers[1].PubKey()))
	})
}

package gcrypto_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gordian-engine/gagree/gcrypto"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RoundTrip(t *testing.T) {
	t.Parallel()

	pubKey, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	edKey := gcrypto.Ed25519PubKey(pubKey)

	secpPriv, err := crypto.GenerateKey()
	require.NoError(t, err)
	secpKey := gcrypto.Secp256k1PubKey(secpPriv.PublicKey)

	reg := new(gcrypto.Registry)
	gcrypto.RegisterEd25519(reg)
	gcrypto.RegisterSecp256k1(reg)

	gotEd, err := reg.Unmarshal(reg.Marshal(edKey))
	require.NoError(t, err)
	gotSecp, err := reg.Unmarshal(reg.Marshal(secpKey))
	require.NoError(t, err)

	require.True(t, edKey.Equal(gotEd))
	require.True(t, secpKey.Equal(gotSecp))

	require.IsType(t, gcrypto.Ed25519PubKey{}, gotEd)
	require.IsType(t, gcrypto.Secp256k1PubKey{}, gotSecp)

	// Keys of different types never compare equal.
	require.False(t, gotEd.Equal(gotSecp))
}

func TestRegistry_Unmarshal_UnknownType(t *testing.T) {
	t.Parallel()

	reg := new(gcrypto.Registry)
	gcrypto.RegisterEd25519(reg)

	_, err := reg.Unmarshal([]byte("abcd\x00\x00\x00\x00111222333"))
	require.ErrorContains(t, err, "no registered public key type for prefix \"abcd\"")
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	t.Parallel()

	reg := new(gcrypto.Registry)
	gcrypto.RegisterEd25519(reg)

	require.Panics(t, func() {
		gcrypto.RegisterEd25519(reg)
	})
}

package gagreecmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gordian-engine/gagree/ag/agregistry"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in, typeName string
	}{
		{in: "ed25519", typeName: "ed25519"},
		{in: "secp256k1", typeName: "secp256k"},
		{in: "bls", typeName: "bls-msig"},
	} {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()

			kf, err := generateKey(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.typeName, kf.KeyType)

			s, err := kf.signer()
			require.NoError(t, err)
			require.Equal(t, kf.PubKey, hex.EncodeToString(s.PubKey().PubKeyBytes()))

			// The public key decodes through the registry the node uses.
			pkb, err := hex.DecodeString(kf.PubKey)
			require.NoError(t, err)
			pk, err := newCryptoRegistry().Decode(kf.KeyType, pkb)
			require.NoError(t, err)
			require.True(t, pk.Equal(s.PubKey()))

			msg := []byte("hello")
			sig, err := s.Sign(context.Background(), msg)
			require.NoError(t, err)
			require.True(t, pk.Verify(msg, sig))
		})
	}

	_, err := generateKey("rsa")
	require.Error(t, err)
}

func TestKeygenCmd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.json")

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"keygen", "--out", keyPath})
	require.NoError(t, cmd.Execute())

	// Stdout holds the validator entry for the config file.
	var vc agregistry.ValidatorConfig
	require.NoError(t, json.Unmarshal(out.Bytes(), &vc))
	require.Equal(t, "ed25519", vc.KeyType)
	require.Equal(t, uint64(1), vc.Weight)

	fi, err := os.Stat(keyPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	s, err := loadSigner(keyPath)
	require.NoError(t, err)
	require.Equal(t, vc.PubKey, hex.EncodeToString(s.PubKey().PubKeyBytes()))
}

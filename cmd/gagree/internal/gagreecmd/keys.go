package gagreecmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gordian-engine/gagree/ag/agregistry"
	"github.com/gordian-engine/gagree/gcrypto"
	"github.com/gordian-engine/gagree/gcrypto/gblsminsig"
	"github.com/spf13/cobra"
)

// keyFile is the on-disk form of a validator key.
type keyFile struct {
	KeyType string `json:"key_type"`

	// Hex encoded: the ed25519 seed, the secp256k1 scalar,
	// or the BLS key generation input.
	Secret string `json:"secret"`

	PubKey string `json:"pub_key"`
}

// newCryptoRegistry returns a registry with every supported key type.
func newCryptoRegistry() *gcrypto.Registry {
	reg := new(gcrypto.Registry)
	gcrypto.RegisterEd25519(reg)
	gcrypto.RegisterSecp256k1(reg)
	gblsminsig.Register(reg)
	return reg
}

func generateKey(keyType string) (keyFile, error) {
	var secret []byte
	switch keyType {
	case "ed25519":
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return keyFile{}, err
		}
		secret = priv.Seed()

	case "secp256k", "secp256k1":
		priv, err := crypto.GenerateKey()
		if err != nil {
			return keyFile{}, err
		}
		secret = crypto.FromECDSA(priv)

	case "bls-msig", "bls":
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return keyFile{}, err
		}

	default:
		return keyFile{}, fmt.Errorf("unknown key type %q (want ed25519, secp256k1, or bls)", keyType)
	}

	kf := keyFile{KeyType: keyType, Secret: hex.EncodeToString(secret)}
	s, err := kf.signer()
	if err != nil {
		return keyFile{}, err
	}

	// Normalize aliases to the registered name.
	kf.KeyType = s.PubKey().TypeName()
	kf.PubKey = hex.EncodeToString(s.PubKey().PubKeyBytes())
	return kf, nil
}

func (kf keyFile) signer() (gcrypto.Signer, error) {
	secret, err := hex.DecodeString(kf.Secret)
	if err != nil {
		return nil, fmt.Errorf("decoding secret: %w", err)
	}

	switch kf.KeyType {
	case "ed25519":
		if len(secret) != ed25519.SeedSize {
			return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(secret))
		}
		return gcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(secret)), nil

	case "secp256k", "secp256k1":
		priv, err := crypto.ToECDSA(secret)
		if err != nil {
			return nil, fmt.Errorf("decoding secp256k1 key: %w", err)
		}
		return gcrypto.NewSecp256k1Signer(priv), nil

	case "bls-msig", "bls":
		return gblsminsig.NewSigner(secret)

	default:
		return nil, fmt.Errorf("unknown key type %q", kf.KeyType)
	}
}

func loadSigner(path string) (gcrypto.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var kf keyFile
	if err := json.Unmarshal(b, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}

	s, err := kf.signer()
	if err != nil {
		return nil, fmt.Errorf("key file %q: %w", path, err)
	}
	return s, nil
}

func newKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a validator key",
		Long: `Generate a validator key and write it as JSON.

The output also contains the public key entry for the validators section of a node config.`,
		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			keyType, _ := cmd.Flags().GetString("type")
			out, _ := cmd.Flags().GetString("out")

			kf, err := generateKey(keyType)
			if err != nil {
				return err
			}

			b, err := json.MarshalIndent(kf, "", "  ")
			if err != nil {
				return err
			}

			if out == "" {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			}

			if err := os.WriteFile(out, append(b, '\n'), 0o600); err != nil {
				return fmt.Errorf("failed to write key file: %w", err)
			}

			entry, err := json.Marshal(agregistry.ValidatorConfig{
				KeyType: kf.KeyType,
				PubKey:  kf.PubKey,
				Weight:  1,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(entry))
			return err
		},
	}

	cmd.Flags().String("type", "ed25519", "key type: ed25519, secp256k1, or bls")
	cmd.Flags().StringP("out", "o", "", "file to write the key to; stdout if empty")

	return cmd
}

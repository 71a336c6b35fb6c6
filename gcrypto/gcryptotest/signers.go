package gcryptotest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gordian-engine/gagree/gcrypto"
)

var (
	edMu      sync.Mutex
	edSigners []gcrypto.Ed25519Signer

	secpMu      sync.Mutex
	secpSigners []gcrypto.Secp256k1Signer
)

// DeterministicEd25519Signers returns n ed25519 signers
// whose keys are derived from their index.
//
// Keys are cached across calls, so the same index always yields the same key
// and repeated calls cost nothing beyond the first generation.
func DeterministicEd25519Signers(n int) []gcrypto.Ed25519Signer {
	edMu.Lock()
	defer edMu.Unlock()

	for i := len(edSigners); i < n; i++ {
		seed := seedFor("ed25519", i)
		edSigners = append(edSigners, gcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed[:])))
	}

	out := make([]gcrypto.Ed25519Signer, n)
	copy(out, edSigners)
	return out
}

// DeterministicSecp256k1Signers is the secp256k1 counterpart
// to [DeterministicEd25519Signers].
func DeterministicSecp256k1Signers(n int) []gcrypto.Secp256k1Signer {
	secpMu.Lock()
	defer secpMu.Unlock()

	for i := len(secpSigners); i < n; i++ {
		seed := seedFor("secp256k1", i)
		priv, err := crypto.ToECDSA(seed[:])
		if err != nil {
			panic(err)
		}
		secpSigners = append(secpSigners, gcrypto.NewSecp256k1Signer(priv))
	}

	out := make([]gcrypto.Secp256k1Signer, n)
	copy(out, secpSigners)
	return out
}

func seedFor(domain string, i int) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i))
	return sha256.Sum256(append([]byte(domain), buf[:]...))
}
